package dto

import (
	"time"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/handler/helper"
)

// CreateThemeRequest - запрос на создание темы
type CreateThemeRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

// CreateSubthemeRequest - запрос на создание подтемы
type CreateSubthemeRequest struct {
	ThemeID uint   `json:"theme_id" binding:"required"`
	Name    string `json:"name" binding:"required,max=200"`
}

// CreateGroupRequest - запрос на создание группы
type CreateGroupRequest struct {
	SubthemeID uint   `json:"subtheme_id" binding:"required"`
	Name       string `json:"name" binding:"required,max=200"`
}

// CreateQuestionRequest - запрос на создание вопроса
type CreateQuestionRequest struct {
	ThemeID       uint     `json:"theme_id" binding:"required"`
	SubthemeID    uint     `json:"subtheme_id"`
	GroupID       uint     `json:"group_id"`
	Text          string   `json:"text" binding:"required,max=1000"`
	Options       []string `json:"options" binding:"required,min=2,max=10"`
	CorrectOption int      `json:"correct_option" binding:"min=0"`
}

// PlacementRequest - новое положение вопроса в таксономии
type PlacementRequest struct {
	ThemeID    uint `json:"theme_id" binding:"required"`
	SubthemeID uint `json:"subtheme_id"`
	GroupID    uint `json:"group_id"`
}

// Placement преобразует запрос в положение
func (r PlacementRequest) Placement() entity.Placement {
	return entity.Placement{ThemeID: r.ThemeID, SubthemeID: r.SubthemeID, GroupID: r.GroupID}
}

// UserStateRequest - полный набор флагов пользователя по вопросу
type UserStateRequest struct {
	Answered   bool `json:"answered"`
	Incorrect  bool `json:"incorrect"`
	Bookmarked bool `json:"bookmarked"`
}

// Flags преобразует запрос во флаги
func (r UserStateRequest) Flags() entity.UserFlags {
	return entity.UserFlags{Answered: r.Answered, Incorrect: r.Incorrect, Bookmarked: r.Bookmarked}
}

// QuestionResponse представляет вопрос в формате для ответа клиенту (без правильного ответа)
type QuestionResponse struct {
	ID         uint                    `json:"id"`
	TenantID   uint                    `json:"tenant_id"`
	ThemeID    uint                    `json:"theme_id"`
	SubthemeID uint                    `json:"subtheme_id,omitempty"`
	GroupID    uint                    `json:"group_id,omitempty"`
	Text       string                  `json:"text"`
	Options    []helper.QuestionOption `json:"options"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// NewQuestionResponse создает DTO для вопроса
func NewQuestionResponse(q *entity.Question) *QuestionResponse {
	return &QuestionResponse{
		ID:         q.ID,
		TenantID:   q.TenantID,
		ThemeID:    q.ThemeID,
		SubthemeID: q.SubthemeID,
		GroupID:    q.GroupID,
		Text:       q.Text,
		Options:    helper.ConvertOptionsToObjects(q.Options),
		CreatedAt:  q.CreatedAt,
		UpdatedAt:  q.UpdatedAt,
	}
}
