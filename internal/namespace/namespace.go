// Package namespace отображает (измерение, ключ) в идентификатор пространства имён агрегатов.
//
// Формат идентификаторов (тенант всегда идёт префиксом):
//
//	7/global                       - все вопросы тенанта
//	7/theme:12, 7/subtheme:3, 7/group:9
//	7/user:5:incorrect             - статус пользователя по всему тенанту
//	7/user:5:incorrect@theme:12    - тот же статус в пределах узла таксономии
//
// Все функции пакета чистые и не имеют побочных эффектов.
package namespace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// Namespace - идентификатор пространства имён
type Namespace string

func (ns Namespace) String() string {
	return string(ns)
}

// Dimension - измерение пространства имён
type Dimension string

const (
	DimGlobal   Dimension = "global"
	DimTheme    Dimension = "theme"
	DimSubtheme Dimension = "subtheme"
	DimGroup    Dimension = "group"
	DimUser     Dimension = "user"
)

// Key - разобранное представление пространства имён
type Key struct {
	Dimension Dimension
	TenantID  uint
	// NodeID - id узла таксономии для theme/subtheme/group
	NodeID uint
	// Поля пользовательского измерения
	UserID uint
	Status entity.UserStatus
	// Scope сужает пользовательское пространство до узла таксономии.
	// LevelGlobal (или пустое значение) означает весь тенант.
	Scope   entity.Level
	ScopeID uint
}

// Route отображает ключ в идентификатор пространства имён
func Route(k Key) Namespace {
	prefix := strconv.FormatUint(uint64(k.TenantID), 10) + "/"
	switch k.Dimension {
	case DimTheme, DimSubtheme, DimGroup:
		return Namespace(prefix + string(k.Dimension) + ":" + strconv.FormatUint(uint64(k.NodeID), 10))
	case DimUser:
		ns := prefix + "user:" + strconv.FormatUint(uint64(k.UserID), 10) + ":" + string(k.Status)
		if k.Scope != "" && k.Scope != entity.LevelGlobal {
			ns += "@" + string(k.Scope) + ":" + strconv.FormatUint(uint64(k.ScopeID), 10)
		}
		return Namespace(ns)
	default:
		return Namespace(prefix + string(DimGlobal))
	}
}

// Global - все вопросы тенанта
func Global(tenantID uint) Namespace {
	return Route(Key{Dimension: DimGlobal, TenantID: tenantID})
}

// Node - пространство узла таксономии; для LevelGlobal возвращает Global
func Node(tenantID uint, level entity.Level, id uint) Namespace {
	switch level {
	case entity.LevelTheme:
		return Route(Key{Dimension: DimTheme, TenantID: tenantID, NodeID: id})
	case entity.LevelSubtheme:
		return Route(Key{Dimension: DimSubtheme, TenantID: tenantID, NodeID: id})
	case entity.LevelGroup:
		return Route(Key{Dimension: DimGroup, TenantID: tenantID, NodeID: id})
	default:
		return Global(tenantID)
	}
}

// User - статус пользователя по всему тенанту
func User(tenantID, userID uint, status entity.UserStatus) Namespace {
	return Route(Key{Dimension: DimUser, TenantID: tenantID, UserID: userID, Status: status})
}

// UserScoped - статус пользователя в пределах узла таксономии
func UserScoped(tenantID, userID uint, status entity.UserStatus, level entity.Level, id uint) Namespace {
	return Route(Key{
		Dimension: DimUser,
		TenantID:  tenantID,
		UserID:    userID,
		Status:    status,
		Scope:     level,
		ScopeID:   id,
	})
}

// ForPlacement возвращает все пространства, в которые входит вопрос с данным положением.
// Неназначенные уровни (id = 0) пропускаются.
func ForPlacement(p entity.Placement) []Namespace {
	out := make([]Namespace, 0, 4)
	out = append(out, Global(p.TenantID))
	for _, level := range []entity.Level{entity.LevelTheme, entity.LevelSubtheme, entity.LevelGroup} {
		if id := p.NodeID(level); id != 0 {
			out = append(out, Node(p.TenantID, level, id))
		}
	}
	return out
}

// ForUserPlacement возвращает пространства статуса пользователя для вопроса с данным положением:
// общее по тенанту и суженные до каждого назначенного узла.
func ForUserPlacement(p entity.Placement, userID uint, status entity.UserStatus) []Namespace {
	out := make([]Namespace, 0, 4)
	out = append(out, User(p.TenantID, userID, status))
	for _, level := range []entity.Level{entity.LevelTheme, entity.LevelSubtheme, entity.LevelGroup} {
		if id := p.NodeID(level); id != 0 {
			out = append(out, UserScoped(p.TenantID, userID, status, level, id))
		}
	}
	return out
}

// Parse разбирает идентификатор обратно в ключ
func Parse(ns Namespace) (Key, error) {
	s := string(ns)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 {
		return Key{}, fmt.Errorf("namespace %q: missing tenant prefix", s)
	}
	tenant, err := parseID(s[:slash])
	if err != nil {
		return Key{}, fmt.Errorf("namespace %q: bad tenant: %w", s, err)
	}
	rest := s[slash+1:]
	k := Key{TenantID: tenant}

	if rest == string(DimGlobal) {
		k.Dimension = DimGlobal
		return k, nil
	}

	if strings.HasPrefix(rest, "user:") {
		k.Dimension = DimUser
		body := strings.TrimPrefix(rest, "user:")
		scope := ""
		if at := strings.IndexByte(body, '@'); at >= 0 {
			body, scope = body[:at], body[at+1:]
		}
		parts := strings.Split(body, ":")
		if len(parts) != 2 {
			return Key{}, fmt.Errorf("namespace %q: malformed user dimension", s)
		}
		if k.UserID, err = parseID(parts[0]); err != nil {
			return Key{}, fmt.Errorf("namespace %q: bad user id: %w", s, err)
		}
		k.Status = entity.UserStatus(parts[1])
		if !k.Status.Valid() {
			return Key{}, fmt.Errorf("namespace %q: unknown status %q", s, parts[1])
		}
		k.Scope = entity.LevelGlobal
		if scope != "" {
			level, id, err := parseNode(scope)
			if err != nil {
				return Key{}, fmt.Errorf("namespace %q: %w", s, err)
			}
			k.Scope = entity.Level(level)
			k.ScopeID = id
		}
		return k, nil
	}

	level, id, err := parseNode(rest)
	if err != nil {
		return Key{}, fmt.Errorf("namespace %q: %w", s, err)
	}
	k.Dimension = level
	k.NodeID = id
	return k, nil
}

func parseNode(s string) (Dimension, uint, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", 0, fmt.Errorf("malformed node %q", s)
	}
	dim := Dimension(s[:colon])
	switch dim {
	case DimTheme, DimSubtheme, DimGroup:
	default:
		return "", 0, fmt.Errorf("unknown dimension %q", s[:colon])
	}
	id, err := parseID(s[colon+1:])
	if err != nil {
		return "", 0, err
	}
	return dim, id, nil
}

func parseID(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// TenantPrefix - общий префикс всех пространств тенанта
func TenantPrefix(tenantID uint) string {
	return strconv.FormatUint(uint64(tenantID), 10) + "/"
}

// Tenant возвращает тенанта пространства (0, если идентификатор некорректен)
func (ns Namespace) Tenant() uint {
	k, err := Parse(ns)
	if err != nil {
		return 0
	}
	return k.TenantID
}

// Class возвращает класс ремонта пространства ("" для некорректного идентификатора)
func (ns Namespace) Class() Class {
	k, err := Parse(ns)
	if err != nil {
		return ""
	}
	return k.Class()
}

// Class возвращает класс ремонта ключа
func (k Key) Class() Class {
	switch k.Dimension {
	case DimGlobal:
		return ClassGlobal
	case DimTheme:
		return ClassTheme
	case DimSubtheme:
		return ClassSubtheme
	case DimGroup:
		return ClassGroup
	case DimUser:
		return Class(k.Status)
	}
	return ""
}

// Level возвращает уровень таксономии для измерений global/theme/subtheme/group
func (k Key) Level() entity.Level {
	switch k.Dimension {
	case DimTheme:
		return entity.LevelTheme
	case DimSubtheme:
		return entity.LevelSubtheme
	case DimGroup:
		return entity.LevelGroup
	}
	return entity.LevelGlobal
}
