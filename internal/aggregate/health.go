package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/yourusername/qbank-api/internal/namespace"
)

// Health - реестр повреждённых и перестраиваемых пространств.
// Пространство считается здоровым, пока его явно не пометили повреждённым
// и пока оно не входит в перестраиваемую область; обе пометки снимает
// успешная проверка после ремонта.
type Health struct {
	mu         sync.RWMutex
	corrupted  map[namespace.Namespace]time.Time
	rebuilding map[string]func(namespace.Namespace) bool
}

// NewHealth создает пустой реестр
func NewHealth() *Health {
	return &Health{
		corrupted:  make(map[namespace.Namespace]time.Time),
		rebuilding: make(map[string]func(namespace.Namespace) bool),
	}
}

// MarkRebuilding помечает область key (предикат match) как перестраиваемую.
// Пока пометка стоит, агрегатам области нельзя доверять.
func (h *Health) MarkRebuilding(key string, match func(namespace.Namespace) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebuilding[key] = match
}

// ClearRebuilding снимает пометку перестройки области
func (h *Health) ClearRebuilding(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rebuilding, key)
}

// Rebuilding возвращает отсортированные ключи перестраиваемых областей
func (h *Health) Rebuilding() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rebuilding))
	for key := range h.rebuilding {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// MarkCorrupted помечает пространство повреждённым. Возвращает true, если пометка новая.
func (h *Health) MarkCorrupted(ns namespace.Namespace) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.corrupted[ns]; ok {
		return false
	}
	h.corrupted[ns] = time.Now()
	return true
}

// MarkHealthy снимает пометку
func (h *Health) MarkHealthy(ns namespace.Namespace) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.corrupted, ns)
}

// MarkHealthyMatching снимает пометку со всех пространств, удовлетворяющих предикату
func (h *Health) MarkHealthyMatching(match func(namespace.Namespace) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for ns := range h.corrupted {
		if match(ns) {
			delete(h.corrupted, ns)
			n++
		}
	}
	return n
}

// IsHealthy сообщает, можно ли доверять агрегату пространства
func (h *Health) IsHealthy(ns namespace.Namespace) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, bad := h.corrupted[ns]; bad {
		return false
	}
	for _, match := range h.rebuilding {
		if match(ns) {
			return false
		}
	}
	return true
}

// Corrupted возвращает отсортированный список повреждённых пространств
func (h *Health) Corrupted() []namespace.Namespace {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]namespace.Namespace, 0, len(h.corrupted))
	for ns := range h.corrupted {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
