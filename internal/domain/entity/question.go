package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
func (o StringArray) Value() (driver.Value, error) {
	if len(o) == 0 {
		return []byte("[]"), nil // Пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Question представляет вопрос банка вопросов.
// Положение вопроса в таксономии (тема → подтема → группа) определяет,
// в какие пространства имён агрегатов он попадает.
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	TenantID      uint        `gorm:"not null;index" json:"tenant_id"`
	ThemeID       uint        `gorm:"not null;index" json:"theme_id"`
	SubthemeID    uint        `gorm:"not null;default:0;index" json:"subtheme_id"` // 0 - подтема не назначена
	GroupID       uint        `gorm:"not null;default:0;index" json:"group_id"`    // 0 - группа не назначена
	Text          string      `gorm:"size:1000;not null" json:"text"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectOption int         `gorm:"not null" json:"-"` // Скрыто от клиента
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// Placement возвращает положение вопроса в таксономии
func (q *Question) Placement() Placement {
	return Placement{
		TenantID:   q.TenantID,
		ThemeID:    q.ThemeID,
		SubthemeID: q.SubthemeID,
		GroupID:    q.GroupID,
	}
}

// SetPlacement переносит вопрос в другое место таксономии (тенант не меняется)
func (q *Question) SetPlacement(p Placement) {
	q.ThemeID = p.ThemeID
	q.SubthemeID = p.SubthemeID
	q.GroupID = p.GroupID
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidOption проверяет, является ли выбранный вариант допустимым
func (q *Question) IsValidOption(selectedOption int) bool {
	return selectedOption >= 0 && selectedOption < len(q.Options)
}

// IsCorrect проверяет, является ли выбранный вариант правильным
func (q *Question) IsCorrect(selectedOption int) bool {
	return selectedOption == q.CorrectOption
}
