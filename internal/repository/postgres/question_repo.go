package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// Create создает новый вопрос
func (r *QuestionRepo) Create(ctx context.Context, question *entity.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}

// GetByID возвращает вопрос по ID
func (r *QuestionRepo) GetByID(ctx context.Context, id uint) (*entity.Question, error) {
	var question entity.Question
	err := r.db.WithContext(ctx).First(&question, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// UpdatePlacement переносит вопрос в другой узел таксономии
func (r *QuestionRepo) UpdatePlacement(ctx context.Context, id uint, placement entity.Placement) error {
	result := r.db.WithContext(ctx).Model(&entity.Question{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"theme_id":    placement.ThemeID,
			"subtheme_id": placement.SubthemeID,
			"group_id":    placement.GroupID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete удаляет вопрос
func (r *QuestionRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entity.Question{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
