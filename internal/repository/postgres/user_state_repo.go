package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// UserStateRepo реализует repository.UserStateRepository
type UserStateRepo struct {
	db *gorm.DB
}

// NewUserStateRepo создает новый репозиторий состояний пользователей
func NewUserStateRepo(db *gorm.DB) *UserStateRepo {
	return &UserStateRepo{db: db}
}

// Get возвращает состояние пользователя по вопросу
func (r *UserStateRepo) Get(ctx context.Context, userID, questionID uint) (*entity.UserQuestionState, error) {
	var state entity.UserQuestionState
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND question_id = ?", userID, questionID).
		First(&state).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &state, nil
}

// Upsert создает или обновляет состояние по паре (user_id, question_id)
func (r *UserStateRepo) Upsert(ctx context.Context, state *entity.UserQuestionState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"answered", "incorrect", "bookmarked", "updated_at"}),
	}).Create(state).Error
}

// ListByQuestion возвращает все состояния по вопросу
func (r *UserStateRepo) ListByQuestion(ctx context.Context, questionID uint) ([]entity.UserQuestionState, error) {
	var states []entity.UserQuestionState
	err := r.db.WithContext(ctx).Where("question_id = ?", questionID).Order("id").Find(&states).Error
	return states, err
}

// DeleteByQuestion удаляет все состояния по вопросу
func (r *UserStateRepo) DeleteByQuestion(ctx context.Context, questionID uint) error {
	return r.db.WithContext(ctx).Where("question_id = ?", questionID).Delete(&entity.UserQuestionState{}).Error
}
