package repair

import (
	"fmt"
	"strconv"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
)

// Scope - область ремонта: класс пространств (опционально одного тенанта)
// или одно конкретное пространство
type Scope struct {
	Class     namespace.Class     `json:"class"`
	TenantID  uint                `json:"tenant_id,omitempty"`
	Namespace namespace.Namespace `json:"namespace,omitempty"`
}

// ScopeForNamespace строит область ремонта одного пространства
func ScopeForNamespace(ns namespace.Namespace) (Scope, error) {
	k, err := namespace.Parse(ns)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Class: k.Class(), TenantID: k.TenantID, Namespace: ns}, nil
}

// Validate проверяет область
func (s Scope) Validate() error {
	if s.Namespace != "" {
		k, err := namespace.Parse(s.Namespace)
		if err != nil {
			return err
		}
		if s.Class != "" && s.Class != k.Class() {
			return fmt.Errorf("namespace %s does not belong to class %s", s.Namespace, s.Class)
		}
		return nil
	}
	_, err := namespace.ParseClass(string(s.Class))
	return err
}

// Key - ключ области для блокировок и хранения задания
func (s Scope) Key() string {
	if s.Namespace != "" {
		return "ns:" + string(s.Namespace)
	}
	tenant := "all"
	if s.TenantID != 0 {
		tenant = strconv.FormatUint(uint64(s.TenantID), 10)
	}
	return "class:" + string(s.Class) + ":" + tenant
}

func (s Scope) String() string {
	return s.Key()
}

// normalized заполняет класс и тенант для области одного пространства
func (s Scope) normalized() (Scope, error) {
	if s.Namespace == "" {
		return s, nil
	}
	k, err := namespace.Parse(s.Namespace)
	if err != nil {
		return s, err
	}
	s.Class, s.TenantID = k.Class(), k.TenantID
	return s, nil
}

// Matches сообщает, входит ли пространство в область
func (s Scope) Matches(ns namespace.Namespace) bool {
	if s.Namespace != "" {
		return ns == s.Namespace
	}
	return namespace.Matcher(s.Class, s.TenantID)(ns)
}

// status возвращает статус пользователя для пользовательских классов ("" для таксономии)
func (s Scope) status() entity.UserStatus {
	if status, ok := s.Class.UserStatus(); ok {
		return status
	}
	return ""
}

// levels - уровни, пересчитываемые при проверке
func (s Scope) levels() []entity.Level {
	if s.Namespace != "" {
		k, _ := namespace.Parse(s.Namespace)
		if k.Dimension == namespace.DimUser {
			if k.Scope == "" {
				return []entity.Level{entity.LevelGlobal}
			}
			return []entity.Level{k.Scope}
		}
		return []entity.Level{k.Level()}
	}
	if level, ok := s.Class.Level(); ok {
		return []entity.Level{level}
	}
	return []entity.Level{entity.LevelGlobal, entity.LevelTheme, entity.LevelSubtheme, entity.LevelGroup}
}

// namespacesFor возвращает пространства области, в которые входит строка источника
func (s Scope) namespacesFor(row repository.SourceRow) []namespace.Namespace {
	p := row.Placement()
	var all []namespace.Namespace
	if status := s.status(); status != "" {
		all = namespace.ForUserPlacement(p, row.UserID, status)
	} else {
		level, _ := s.Class.Level()
		if level == entity.LevelGlobal {
			all = []namespace.Namespace{namespace.Global(p.TenantID)}
		} else if id := p.NodeID(level); id != 0 {
			all = []namespace.Namespace{namespace.Node(p.TenantID, level, id)}
		}
	}
	if s.Namespace == "" {
		return all
	}
	for _, ns := range all {
		if ns == s.Namespace {
			return []namespace.Namespace{ns}
		}
	}
	return nil
}

// expectedNamespace строит пространство для строки пересчёта GROUP BY
func (s Scope) expectedNamespace(level entity.Level, gc repository.GroupCount) namespace.Namespace {
	if status := s.status(); status != "" {
		if level == entity.LevelGlobal {
			return namespace.User(gc.TenantID, gc.UserID, status)
		}
		return namespace.UserScoped(gc.TenantID, gc.UserID, status, level, gc.NodeID)
	}
	return namespace.Node(gc.TenantID, level, gc.NodeID)
}
