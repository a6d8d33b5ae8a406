// Package aggregate - хранилище агрегатов: по одному дереву порядковых статистик
// на пространство имён. Даёт Count и At за O(log n) без сканирования источника.
package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// CorruptionError - нарушение внутренних инвариантов дерева.
// errors.Is(err, apperrors.ErrAggregateCorrupted) == true.
type CorruptionError struct {
	Namespace namespace.Namespace
	Reason    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("aggregate %s corrupted: %v", e.Namespace, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return apperrors.ErrAggregateCorrupted
}

func corrupted(ns namespace.Namespace, reason error) error {
	aggregateCorruptions.Inc()
	return &CorruptionError{Namespace: ns, Reason: reason}
}

// Bounds - полуоткрытый диапазон ключей вставки [From, To). Нулевой To - без верхней границы.
type Bounds struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Store - набор деревьев, индексированных пространством имён.
// Пространство создается лениво при первой вставке; опустевшие пространства сохраняются.
type Store struct {
	mu    sync.RWMutex
	trees map[namespace.Namespace]*Tree
	log   *logger.Logger
}

// NewStore создает пустое хранилище
func NewStore(log *logger.Logger) *Store {
	return &Store{
		trees: make(map[namespace.Namespace]*Tree),
		log:   logger.OrNop(log),
	}
}

func (s *Store) lookup(ns namespace.Namespace) *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trees[ns]
}

func (s *Store) ensure(ns namespace.Namespace) *Tree {
	if t := s.lookup(ns); t != nil {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[ns]
	if !ok {
		t = NewTree()
		s.trees[ns] = t
		aggregateNamespaces.Set(float64(len(s.trees)))
	}
	return t
}

// Insert добавляет id в пространство (идемпотентно)
func (s *Store) Insert(ns namespace.Namespace, id uint64) (bool, error) {
	added := s.ensure(ns).Insert(id)
	if added {
		aggregateOps.WithLabelValues("insert").Inc()
	}
	return added, nil
}

// Remove удаляет id из пространства; отсутствие пространства или id - не ошибка
func (s *Store) Remove(ns namespace.Namespace, id uint64) (bool, error) {
	t := s.lookup(ns)
	if t == nil {
		return false, nil
	}
	removed, err := t.Remove(id)
	if err != nil {
		return false, corrupted(ns, err)
	}
	if removed {
		aggregateOps.WithLabelValues("remove").Inc()
	}
	return removed, nil
}

// Count возвращает число элементов; неизвестное пространство - 0
func (s *Store) Count(ns namespace.Namespace) (int, error) {
	t := s.lookup(ns)
	if t == nil {
		return 0, nil
	}
	n, err := t.Count()
	if err != nil {
		return 0, corrupted(ns, err)
	}
	return n, nil
}

// CountRange возвращает число элементов с ключом вставки в диапазоне bounds
func (s *Store) CountRange(ns namespace.Namespace, b Bounds) (int, error) {
	t := s.lookup(ns)
	if t == nil {
		return 0, nil
	}
	n, err := t.CountRange(b.From, b.To)
	if err != nil {
		return 0, corrupted(ns, err)
	}
	return n, nil
}

// At возвращает элемент по рангу
func (s *Store) At(ns namespace.Namespace, rank int) (uint64, bool, error) {
	t := s.lookup(ns)
	if t == nil {
		return 0, false, nil
	}
	id, ok, err := t.At(rank)
	if err != nil {
		return 0, false, corrupted(ns, err)
	}
	return id, ok, nil
}

// Contains сообщает, есть ли id в пространстве
func (s *Store) Contains(ns namespace.Namespace, id uint64) bool {
	t := s.lookup(ns)
	return t != nil && t.Contains(id)
}

// Members возвращает элементы пространства в порядке рангов
func (s *Store) Members(ns namespace.Namespace) []uint64 {
	t := s.lookup(ns)
	if t == nil {
		return nil
	}
	return t.Members()
}

// Watermark возвращает следующий ключ вставки пространства (0 для неизвестного)
func (s *Store) Watermark(ns namespace.Namespace) uint64 {
	t := s.lookup(ns)
	if t == nil {
		return 0
	}
	return t.Watermark()
}

// Clear удаляет все элементы пространства. Само пространство остаётся.
func (s *Store) Clear(ns namespace.Namespace) int {
	t := s.lookup(ns)
	if t == nil {
		return 0
	}
	n := t.Clear()
	s.log.Debugf("[AggregateStore] Пространство %s очищено (%d элементов)", ns, n)
	return n
}

// ClearMatching очищает все пространства, удовлетворяющие предикату. Возвращает число очищенных пространств.
func (s *Store) ClearMatching(match func(namespace.Namespace) bool) int {
	cleared := 0
	for _, ns := range s.Namespaces() {
		if match(ns) {
			s.Clear(ns)
			cleared++
		}
	}
	return cleared
}

// Namespaces возвращает отсортированный список известных пространств
func (s *Store) Namespaces() []namespace.Namespace {
	s.mu.RLock()
	out := make([]namespace.Namespace, 0, len(s.trees))
	for ns := range s.trees {
		out = append(out, ns)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate выполняет полную проверку дерева пространства
func (s *Store) Validate(ns namespace.Namespace) error {
	t := s.lookup(ns)
	if t == nil {
		return nil
	}
	if err := t.Validate(); err != nil {
		return corrupted(ns, err)
	}
	return nil
}

// NamespaceStats - статистика пространства для операторов
type NamespaceStats struct {
	Namespace namespace.Namespace `json:"namespace"`
	Class     namespace.Class     `json:"class"`
	TreeStats
}

// Stats - сводная статистика хранилища
type Stats struct {
	Namespaces int              `json:"namespaces"`
	Entries    int              `json:"entries"`
	MaxHeight  int              `json:"max_height"`
	PerClass   map[string]int   `json:"per_class"`
	Trees      []NamespaceStats `json:"trees,omitempty"`
}

// Stats собирает статистику; withTrees добавляет построчную статистику пространств
func (s *Store) Stats(withTrees bool) Stats {
	st := Stats{PerClass: make(map[string]int)}
	for _, ns := range s.Namespaces() {
		t := s.lookup(ns)
		if t == nil {
			continue
		}
		ts := t.Stats()
		st.Namespaces++
		st.Entries += ts.Size
		if ts.Height > st.MaxHeight {
			st.MaxHeight = ts.Height
		}
		class := ns.Class()
		st.PerClass[string(class)] += ts.Size
		if withTrees {
			st.Trees = append(st.Trees, NamespaceStats{Namespace: ns, Class: class, TreeStats: ts})
		}
	}
	return st
}
