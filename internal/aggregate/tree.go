package aggregate

import (
	"fmt"
	"sync"
)

// Параметры баланса BB[α] для деревьев, сбалансированных по весу (вес = размер + 1).
const (
	balanceDelta = 3
	balanceGamma = 2
)

type node struct {
	key   uint64 // монотонный ключ вставки
	id    uint64 // полезная нагрузка: только id сущности
	size  int    // размер поддерева
	left  *node
	right *node
}

func sizeOf(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func weightOf(n *node) int {
	return sizeOf(n) + 1
}

func (n *node) fix() {
	n.size = sizeOf(n.left) + sizeOf(n.right) + 1
}

// Tree - дерево порядковых статистик одного пространства имён.
//
// Ключ узла - монотонно растущий ключ вставки, поэтому порядок рангов
// совпадает с порядком вставки. Размер поддерева одновременно служит
// аугментацией для Count/At и метрикой баланса.
//
// Потокобезопасность: чтения берут RLock, изменения - Lock. Повороты выполняются
// целиком под блокировкой записи, читатели никогда не видят дерево посреди поворота.
type Tree struct {
	mu      sync.RWMutex
	root    *node
	index   map[uint64]uint64 // id → ключ вставки
	nextKey uint64
	version uint64 // увеличивается при каждом изменении
}

// NewTree создает пустое дерево
func NewTree() *Tree {
	return &Tree{index: make(map[uint64]uint64), nextKey: 1}
}

// Insert добавляет id; повторная вставка ничего не меняет
func (t *Tree) Insert(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(id)
}

func (t *Tree) insertLocked(id uint64) bool {
	if _, ok := t.index[id]; ok {
		return false
	}
	key := t.nextKey
	t.nextKey++
	t.root = insertNode(t.root, key, id)
	t.index[id] = key
	t.version++
	return true
}

// Remove удаляет id; отсутствие id не является ошибкой
func (t *Tree) Remove(id uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Tree) removeLocked(id uint64) (bool, error) {
	key, ok := t.index[id]
	if !ok {
		return false, nil
	}
	root, removed := removeNode(t.root, key)
	if !removed {
		return false, fmt.Errorf("id %d indexed with key %d but missing from tree", id, key)
	}
	t.root = root
	delete(t.index, id)
	t.version++
	return true, nil
}

// Count возвращает число элементов
func (t *Tree) Count() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.countLocked()
}

func (t *Tree) countLocked() (int, error) {
	n := sizeOf(t.root)
	if n != len(t.index) {
		return 0, fmt.Errorf("root size %d differs from index size %d", n, len(t.index))
	}
	if t.root != nil && t.root.size != sizeOf(t.root.left)+sizeOf(t.root.right)+1 {
		return 0, fmt.Errorf("root size %d inconsistent with children", t.root.size)
	}
	return n, nil
}

// CountRange возвращает число элементов с ключом вставки в [from, to).
// Нулевое to означает «без верхней границы».
func (t *Tree) CountRange(from, to uint64) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, err := t.countLocked(); err != nil {
		return 0, err
	}
	lo, err := rankOf(t.root, from)
	if err != nil {
		return 0, err
	}
	hi := sizeOf(t.root)
	if to != 0 {
		if hi, err = rankOf(t.root, to); err != nil {
			return 0, err
		}
	}
	if hi < lo {
		return 0, nil
	}
	return hi - lo, nil
}

// At возвращает элемент с рангом rank (0-based) в порядке вставки.
// ok = false, если rank вне диапазона.
func (t *Tree) At(rank int) (uint64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total, err := t.countLocked()
	if err != nil {
		return 0, false, err
	}
	if rank < 0 || rank >= total {
		return 0, false, nil
	}

	n := t.root
	for {
		if n == nil {
			return 0, false, fmt.Errorf("dangling link while selecting rank %d", rank)
		}
		if n.size != sizeOf(n.left)+sizeOf(n.right)+1 {
			return 0, false, fmt.Errorf("subtree size mismatch at key %d", n.key)
		}
		ls := sizeOf(n.left)
		switch {
		case rank < ls:
			n = n.left
		case rank == ls:
			return n.id, true, nil
		default:
			rank -= ls + 1
			n = n.right
		}
	}
}

// Contains сообщает, есть ли id в дереве
func (t *Tree) Contains(id uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[id]
	return ok
}

// Members возвращает все id в порядке рангов
func (t *Tree) Members() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint64, 0, sizeOf(t.root))
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, n.id)
		walk(n.right)
	}
	walk(t.root)
	return out
}

// Clear удаляет все элементы. Счётчик ключей не сбрасывается.
func (t *Tree) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked()
}

func (t *Tree) clearLocked() int {
	n := len(t.index)
	t.root = nil
	t.index = make(map[uint64]uint64)
	t.version++
	return n
}

// Watermark возвращает следующий ключ вставки
func (t *Tree) Watermark() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextKey
}

// Version возвращает счётчик изменений
func (t *Tree) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// TreeStats - статистика одного дерева
type TreeStats struct {
	Size      int    `json:"size"`
	Height    int    `json:"height"`
	Watermark uint64 `json:"watermark"`
	Version   uint64 `json:"version"`
}

// Stats возвращает статистику дерева
func (t *Tree) Stats() TreeStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TreeStats{
		Size:      len(t.index),
		Height:    heightOf(t.root),
		Watermark: t.nextKey,
		Version:   t.version,
	}
}

// Validate выполняет полную проверку инвариантов за O(n):
// размеры поддеревьев, порядок ключей, баланс, соответствие индекса.
func (t *Tree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := 0
	var check func(n *node, lo, hi uint64) (int, error)
	check = func(n *node, lo, hi uint64) (int, error) {
		if n == nil {
			return 0, nil
		}
		if n.key < lo || (hi != 0 && n.key >= hi) {
			return 0, fmt.Errorf("key %d out of order", n.key)
		}
		if n.key >= t.nextKey {
			return 0, fmt.Errorf("key %d above watermark %d", n.key, t.nextKey)
		}
		if key, ok := t.index[n.id]; !ok || key != n.key {
			return 0, fmt.Errorf("id %d not indexed with key %d", n.id, n.key)
		}
		ls, err := check(n.left, lo, n.key)
		if err != nil {
			return 0, err
		}
		rs, err := check(n.right, n.key+1, hi)
		if err != nil {
			return 0, err
		}
		if n.size != ls+rs+1 {
			return 0, fmt.Errorf("subtree size mismatch at key %d: stored %d, actual %d", n.key, n.size, ls+rs+1)
		}
		if ls+1 > balanceDelta*(rs+1) || rs+1 > balanceDelta*(ls+1) {
			return 0, fmt.Errorf("weight balance violated at key %d (%d/%d)", n.key, ls, rs)
		}
		seen++
		return n.size, nil
	}

	if _, err := check(t.root, 0, 0); err != nil {
		return err
	}
	if seen != len(t.index) {
		return fmt.Errorf("tree holds %d nodes, index holds %d ids", seen, len(t.index))
	}
	return nil
}

// ============================================================================
// Операции над узлами
// ============================================================================

func insertNode(n *node, key, id uint64) *node {
	if n == nil {
		return &node{key: key, id: id, size: 1}
	}
	if key < n.key {
		n.left = insertNode(n.left, key, id)
	} else {
		n.right = insertNode(n.right, key, id)
	}
	n.fix()
	return balance(n)
}

func removeNode(n *node, key uint64) (*node, bool) {
	if n == nil {
		return nil, false
	}
	var removed bool
	switch {
	case key < n.key:
		n.left, removed = removeNode(n.left, key)
	case key > n.key:
		n.right, removed = removeNode(n.right, key)
	default:
		if n.left == nil {
			return n.right, true
		}
		if n.right == nil {
			return n.left, true
		}
		var successor *node
		n.right, successor = removeMin(n.right)
		successor.left, successor.right = n.left, n.right
		n = successor
		removed = true
	}
	if !removed {
		return n, false
	}
	n.fix()
	return balance(n), true
}

func removeMin(n *node) (*node, *node) {
	if n.left == nil {
		return n.right, n
	}
	var minNode *node
	n.left, minNode = removeMin(n.left)
	n.fix()
	return balance(n), minNode
}

// balance восстанавливает баланс после изменения на один элемент
func balance(n *node) *node {
	lw, rw := weightOf(n.left), weightOf(n.right)
	switch {
	case rw > balanceDelta*lw:
		r := n.right
		if weightOf(r.left) >= balanceGamma*weightOf(r.right) {
			n.right = rotateRight(r)
		}
		return rotateLeft(n)
	case lw > balanceDelta*rw:
		l := n.left
		if weightOf(l.right) >= balanceGamma*weightOf(l.left) {
			n.left = rotateLeft(l)
		}
		return rotateRight(n)
	}
	return n
}

func rotateLeft(n *node) *node {
	r := n.right
	n.right = r.left
	r.left = n
	n.fix()
	r.fix()
	return r
}

func rotateRight(n *node) *node {
	l := n.left
	n.left = l.right
	l.right = n
	n.fix()
	l.fix()
	return l
}

// rankOf возвращает число ключей, строго меньших key
func rankOf(n *node, key uint64) (int, error) {
	rank := 0
	for n != nil {
		if n.size != sizeOf(n.left)+sizeOf(n.right)+1 {
			return 0, fmt.Errorf("subtree size mismatch at key %d", n.key)
		}
		if key <= n.key {
			n = n.left
		} else {
			rank += sizeOf(n.left) + 1
			n = n.right
		}
	}
	return rank, nil
}

func heightOf(n *node) int {
	if n == nil {
		return 0
	}
	l, r := heightOf(n.left), heightOf(n.right)
	if l > r {
		return l + 1
	}
	return r + 1
}
