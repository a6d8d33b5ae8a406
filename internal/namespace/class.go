package namespace

import (
	"fmt"
	"strings"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// Class - класс пространств имён, которые ремонтируются одним проходом по источнику
type Class string

const (
	ClassGlobal     Class = "global"
	ClassTheme      Class = "theme"
	ClassSubtheme   Class = "subtheme"
	ClassGroup      Class = "group"
	ClassAnswered   Class = Class(entity.StatusAnswered)
	ClassIncorrect  Class = Class(entity.StatusIncorrect)
	ClassBookmarked Class = Class(entity.StatusBookmarked)
)

// Classes возвращает все классы: сначала таксономия, затем пользовательские статусы
func Classes() []Class {
	return []Class{ClassGlobal, ClassTheme, ClassSubtheme, ClassGroup, ClassAnswered, ClassIncorrect, ClassBookmarked}
}

// ParseClass разбирает класс из строки
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Classes() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown namespace class %q", s)
}

// UserStatus возвращает статус для пользовательских классов
func (c Class) UserStatus() (entity.UserStatus, bool) {
	status := entity.UserStatus(c)
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// IsUser сообщает, что класс относится к статусам пользователя
func (c Class) IsUser() bool {
	_, ok := c.UserStatus()
	return ok
}

// Level возвращает уровень таксономии для классов таксономии
func (c Class) Level() (entity.Level, bool) {
	switch c {
	case ClassGlobal:
		return entity.LevelGlobal, true
	case ClassTheme:
		return entity.LevelTheme, true
	case ClassSubtheme:
		return entity.LevelSubtheme, true
	case ClassGroup:
		return entity.LevelGroup, true
	}
	return "", false
}

// Matcher возвращает предикат «пространство принадлежит классу (и тенанту, если tenantID != 0)»
func Matcher(class Class, tenantID uint) func(Namespace) bool {
	return func(ns Namespace) bool {
		k, err := Parse(ns)
		if err != nil {
			return false
		}
		if tenantID != 0 && k.TenantID != tenantID {
			return false
		}
		return k.Class() == class
	}
}
