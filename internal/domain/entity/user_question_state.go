package entity

import (
	"time"
)

// UserStatus - флаг взаимодействия пользователя с вопросом
type UserStatus string

const (
	StatusAnswered   UserStatus = "answered"
	StatusIncorrect  UserStatus = "incorrect"
	StatusBookmarked UserStatus = "bookmarked"
)

// UserStatuses возвращает все статусы в фиксированном порядке
func UserStatuses() []UserStatus {
	return []UserStatus{StatusAnswered, StatusIncorrect, StatusBookmarked}
}

// Valid проверяет, что статус известен
func (s UserStatus) Valid() bool {
	switch s {
	case StatusAnswered, StatusIncorrect, StatusBookmarked:
		return true
	}
	return false
}

// Column возвращает имя булевой колонки флага в user_question_states
func (s UserStatus) Column() string {
	return string(s)
}

// UserQuestionState хранит флаги пользователя по вопросу
type UserQuestionState struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_user_question_state,priority:1" json:"user_id"`
	QuestionID uint      `gorm:"not null;uniqueIndex:idx_user_question_state,priority:2;index" json:"question_id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	Answered   bool      `gorm:"not null;default:false" json:"answered"`
	Incorrect  bool      `gorm:"not null;default:false" json:"incorrect"`
	Bookmarked bool      `gorm:"not null;default:false" json:"bookmarked"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (UserQuestionState) TableName() string {
	return "user_question_states"
}

// Flags возвращает текущие флаги состояния
func (s *UserQuestionState) Flags() UserFlags {
	if s == nil {
		return UserFlags{}
	}
	return UserFlags{Answered: s.Answered, Incorrect: s.Incorrect, Bookmarked: s.Bookmarked}
}

// SetFlags применяет флаги к состоянию
func (s *UserQuestionState) SetFlags(f UserFlags) {
	s.Answered = f.Answered
	s.Incorrect = f.Incorrect
	s.Bookmarked = f.Bookmarked
}

// UserFlags - набор флагов без привязки к записи
type UserFlags struct {
	Answered   bool `json:"answered"`
	Incorrect  bool `json:"incorrect"`
	Bookmarked bool `json:"bookmarked"`
}

// Has возвращает значение флага для статуса
func (f UserFlags) Has(status UserStatus) bool {
	switch status {
	case StatusAnswered:
		return f.Answered
	case StatusIncorrect:
		return f.Incorrect
	case StatusBookmarked:
		return f.Bookmarked
	}
	return false
}

// Any сообщает, установлен ли хотя бы один флаг
func (f UserFlags) Any() bool {
	return f.Answered || f.Incorrect || f.Bookmarked
}
