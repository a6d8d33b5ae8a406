package repository

import (
	"context"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// UserStateRepository определяет методы для работы с флагами пользователей по вопросам
type UserStateRepository interface {
	// Get возвращает состояние или apperrors.ErrNotFound
	Get(ctx context.Context, userID, questionID uint) (*entity.UserQuestionState, error)
	// Upsert создает или обновляет состояние по паре (user_id, question_id)
	Upsert(ctx context.Context, state *entity.UserQuestionState) error
	// ListByQuestion возвращает все состояния по вопросу
	ListByQuestion(ctx context.Context, questionID uint) ([]entity.UserQuestionState, error)
	DeleteByQuestion(ctx context.Context, questionID uint) error
}
