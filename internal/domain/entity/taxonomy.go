package entity

import (
	"fmt"
	"time"
)

// Level - уровень таксономии. LevelGlobal означает весь тенант.
type Level string

const (
	LevelGlobal   Level = "global"
	LevelTheme    Level = "theme"
	LevelSubtheme Level = "subtheme"
	LevelGroup    Level = "group"
)

// Depth возвращает глубину уровня: global=0, theme=1, subtheme=2, group=3
func (l Level) Depth() int {
	switch l {
	case LevelGlobal:
		return 0
	case LevelTheme:
		return 1
	case LevelSubtheme:
		return 2
	case LevelGroup:
		return 3
	default:
		return -1
	}
}

// Valid проверяет, что уровень известен
func (l Level) Valid() bool {
	return l.Depth() >= 0
}

// Theme - тема верхнего уровня
type Theme struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"not null;index" json:"tenant_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Theme) TableName() string {
	return "themes"
}

// Subtheme - подтема, дочерний узел темы
type Subtheme struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"not null;index" json:"tenant_id"`
	ThemeID   uint      `gorm:"not null;index" json:"theme_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Subtheme) TableName() string {
	return "subthemes"
}

// Group - группа, дочерний узел подтемы. ThemeID денормализован для быстрых выборок.
type Group struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	ThemeID    uint      `gorm:"not null;index" json:"theme_id"`
	SubthemeID uint      `gorm:"not null;index" json:"subtheme_id"`
	Name       string    `gorm:"size:200;not null" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM ("group" - зарезервированное слово)
func (Group) TableName() string {
	return "question_groups"
}

// Placement - положение сущности в таксономии
type Placement struct {
	TenantID   uint `json:"tenant_id"`
	ThemeID    uint `json:"theme_id"`
	SubthemeID uint `json:"subtheme_id"`
	GroupID    uint `json:"group_id"`
}

// NodeID возвращает идентификатор узла на заданном уровне (0, если узел не назначен)
func (p Placement) NodeID(level Level) uint {
	switch level {
	case LevelGlobal:
		return p.TenantID
	case LevelTheme:
		return p.ThemeID
	case LevelSubtheme:
		return p.SubthemeID
	case LevelGroup:
		return p.GroupID
	default:
		return 0
	}
}

// Validate проверяет согласованность положения
func (p Placement) Validate() error {
	if p.TenantID == 0 {
		return fmt.Errorf("tenant_id is required")
	}
	if p.ThemeID == 0 {
		return fmt.Errorf("theme_id is required")
	}
	if p.GroupID != 0 && p.SubthemeID == 0 {
		return fmt.Errorf("group_id requires subtheme_id")
	}
	return nil
}

// GroupParent - родители группы
type GroupParent struct {
	SubthemeID uint `json:"subtheme_id"`
	ThemeID    uint `json:"theme_id"`
}

// Lineage - связи узлов с их предками для набора подтем и групп.
// Используется резолвером, чтобы определить вложенность выбранных узлов.
type Lineage struct {
	Subthemes map[uint]uint        `json:"subthemes"` // subtheme → theme
	Groups    map[uint]GroupParent `json:"groups"`    // group → (subtheme, theme)
}

// NewLineage создает пустую структуру связей
func NewLineage() *Lineage {
	return &Lineage{
		Subthemes: make(map[uint]uint),
		Groups:    make(map[uint]GroupParent),
	}
}

// Merge добавляет связи из other
func (l *Lineage) Merge(other *Lineage) {
	if other == nil {
		return
	}
	for id, theme := range other.Subthemes {
		l.Subthemes[id] = theme
	}
	for id, parent := range other.Groups {
		l.Groups[id] = parent
	}
}
