package repository

import (
	"context"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// TaxonomyRepository определяет методы для работы с темами, подтемами и группами
type TaxonomyRepository interface {
	CreateTheme(ctx context.Context, theme *entity.Theme) error
	CreateSubtheme(ctx context.Context, subtheme *entity.Subtheme) error
	CreateGroup(ctx context.Context, group *entity.Group) error

	GetTheme(ctx context.Context, tenantID, id uint) (*entity.Theme, error)
	GetSubtheme(ctx context.Context, tenantID, id uint) (*entity.Subtheme, error)
	GetGroup(ctx context.Context, tenantID, id uint) (*entity.Group, error)

	// Lineage возвращает родителей для указанных подтем и групп тенанта.
	// Неизвестные id в результат не попадают.
	Lineage(ctx context.Context, tenantID uint, subthemeIDs, groupIDs []uint) (*entity.Lineage, error)
}
