package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// TaxonomyRepo реализует repository.TaxonomyRepository
type TaxonomyRepo struct {
	db *gorm.DB
}

// NewTaxonomyRepo создает новый репозиторий таксономии
func NewTaxonomyRepo(db *gorm.DB) *TaxonomyRepo {
	return &TaxonomyRepo{db: db}
}

func (r *TaxonomyRepo) CreateTheme(ctx context.Context, theme *entity.Theme) error {
	return r.db.WithContext(ctx).Create(theme).Error
}

func (r *TaxonomyRepo) CreateSubtheme(ctx context.Context, subtheme *entity.Subtheme) error {
	return r.db.WithContext(ctx).Create(subtheme).Error
}

func (r *TaxonomyRepo) CreateGroup(ctx context.Context, group *entity.Group) error {
	return r.db.WithContext(ctx).Create(group).Error
}

// GetTheme возвращает тему тенанта по ID
func (r *TaxonomyRepo) GetTheme(ctx context.Context, tenantID, id uint) (*entity.Theme, error) {
	var theme entity.Theme
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&theme).Error; err != nil {
		return nil, notFound(err)
	}
	return &theme, nil
}

// GetSubtheme возвращает подтему тенанта по ID
func (r *TaxonomyRepo) GetSubtheme(ctx context.Context, tenantID, id uint) (*entity.Subtheme, error) {
	var subtheme entity.Subtheme
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&subtheme).Error; err != nil {
		return nil, notFound(err)
	}
	return &subtheme, nil
}

// GetGroup возвращает группу тенанта по ID
func (r *TaxonomyRepo) GetGroup(ctx context.Context, tenantID, id uint) (*entity.Group, error) {
	var group entity.Group
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&group).Error; err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

// Lineage возвращает родителей подтем и групп
func (r *TaxonomyRepo) Lineage(ctx context.Context, tenantID uint, subthemeIDs, groupIDs []uint) (*entity.Lineage, error) {
	lineage := entity.NewLineage()

	if len(subthemeIDs) > 0 {
		var subthemes []entity.Subtheme
		err := r.db.WithContext(ctx).
			Select("id", "theme_id").
			Where("tenant_id = ? AND id IN ?", tenantID, subthemeIDs).
			Find(&subthemes).Error
		if err != nil {
			return nil, err
		}
		for _, s := range subthemes {
			lineage.Subthemes[s.ID] = s.ThemeID
		}
	}

	if len(groupIDs) > 0 {
		var groups []entity.Group
		err := r.db.WithContext(ctx).
			Select("id", "subtheme_id", "theme_id").
			Where("tenant_id = ? AND id IN ?", tenantID, groupIDs).
			Find(&groups).Error
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			lineage.Groups[g.ID] = entity.GroupParent{SubthemeID: g.SubthemeID, ThemeID: g.ThemeID}
		}
	}

	return lineage, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return err
}
