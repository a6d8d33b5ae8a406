package repository

import (
	"context"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// QuestionRepository определяет методы для работы с вопросами (источник истины)
type QuestionRepository interface {
	Create(ctx context.Context, question *entity.Question) error
	GetByID(ctx context.Context, id uint) (*entity.Question, error)
	// UpdatePlacement переносит вопрос в другой узел таксономии
	UpdatePlacement(ctx context.Context, id uint, placement entity.Placement) error
	Delete(ctx context.Context, id uint) error
}
