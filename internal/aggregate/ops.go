package aggregate

import (
	"errors"
	"sort"

	"github.com/yourusername/qbank-api/internal/namespace"
)

// OpKind - тип операции над агрегатом
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpRemove OpKind = "remove"
)

// Op - одна операция над пространством имён
type Op struct {
	Kind      OpKind              `json:"kind"`
	Namespace namespace.Namespace `json:"ns"`
	ID        uint64              `json:"id"`
}

// InsertOps строит операции вставки id во все пространства
func InsertOps(id uint64, namespaces []namespace.Namespace) []Op {
	ops := make([]Op, 0, len(namespaces))
	for _, ns := range namespaces {
		ops = append(ops, Op{Kind: OpInsert, Namespace: ns, ID: id})
	}
	return ops
}

// RemoveOps строит операции удаления id из всех пространств
func RemoveOps(id uint64, namespaces []namespace.Namespace) []Op {
	ops := make([]Op, 0, len(namespaces))
	for _, ns := range namespaces {
		ops = append(ops, Op{Kind: OpRemove, Namespace: ns, ID: id})
	}
	return ops
}

// ApplyResult - итог применения пакета операций
type ApplyResult struct {
	Inserted  int                   `json:"inserted"`
	Removed   int                   `json:"removed"`
	Corrupted []namespace.Namespace `json:"corrupted,omitempty"`
}

// Apply применяет пакет операций так, что все изменения становятся видны одновременно:
// деревья блокируются на запись в порядке сортировки пространств и отпускаются
// после применения всех операций. Ошибка повреждения одного пространства не
// мешает применить остальные операции; повреждённые пространства перечислены в результате.
func (s *Store) Apply(ops []Op) (ApplyResult, error) {
	var res ApplyResult
	if len(ops) == 0 {
		return res, nil
	}

	// 1. Собираем деревья (для вставок создаём лениво)
	trees := make(map[namespace.Namespace]*Tree)
	for _, op := range ops {
		if t, ok := trees[op.Namespace]; ok && (t != nil || op.Kind != OpInsert) {
			continue
		}
		var t *Tree
		if op.Kind == OpInsert {
			t = s.ensure(op.Namespace)
		} else {
			t = s.lookup(op.Namespace)
		}
		trees[op.Namespace] = t
	}

	// 2. Блокируем в фиксированном порядке, чтобы параллельные Apply не взаимоблокировались
	order := make([]namespace.Namespace, 0, len(trees))
	for ns, t := range trees {
		if t != nil {
			order = append(order, ns)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, ns := range order {
		trees[ns].mu.Lock()
	}
	defer func() {
		for i := len(order) - 1; i >= 0; i-- {
			trees[order[i]].mu.Unlock()
		}
	}()

	// 3. Применяем
	var errs []error
	seenCorrupt := make(map[namespace.Namespace]bool)
	for _, op := range ops {
		t := trees[op.Namespace]
		switch op.Kind {
		case OpInsert:
			if t.insertLocked(op.ID) {
				res.Inserted++
				aggregateOps.WithLabelValues("insert").Inc()
			}
		case OpRemove:
			if t == nil {
				continue
			}
			removed, err := t.removeLocked(op.ID)
			if err != nil {
				if !seenCorrupt[op.Namespace] {
					seenCorrupt[op.Namespace] = true
					res.Corrupted = append(res.Corrupted, op.Namespace)
					errs = append(errs, corrupted(op.Namespace, err))
				}
				continue
			}
			if removed {
				res.Removed++
				aggregateOps.WithLabelValues("remove").Inc()
			}
		}
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
