package aggregate

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// memorySnapshotStore - простое хранилище в памяти с поведением CacheRepo
type memorySnapshotStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{data: make(map[string][]byte)}
}

func (m *memorySnapshotStore) Set(key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = append([]byte(nil), v...)
	case string:
		m.data[key] = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.data[key] = b
	}
	return nil
}

func (m *memorySnapshotStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return string(v), nil
}

func (m *memorySnapshotStore) SetJSON(key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(key, b, ttl)
}

func (m *memorySnapshotStore) GetJSON(key string, dest interface{}) error {
	s, err := m.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), dest)
}

func TestSnapshotter_SaveRestore(t *testing.T) {
	// Arrange
	backend := newMemorySnapshotStore()
	src := NewStore(nil)
	for i := uint64(1); i <= 300; i++ {
		_, _ = src.Insert("1/global", i)
		if i%3 == 0 {
			_, _ = src.Insert("1/theme:1", i)
		}
	}
	_, _ = src.Insert("1/user:2:bookmarked", 9)
	_, _ = src.Insert("1/group:5", 1)
	_, _ = src.Remove("1/group:5", 1) // пустое пространство тоже сохраняется

	manifest, err := NewSnapshotter(src, backend, time.Hour, "test", nil).Save()
	require.NoError(t, err)
	require.Len(t, manifest.Namespaces, 4)

	// Act
	dst := NewStore(nil)
	restored, err := NewSnapshotter(dst, backend, time.Hour, "other", nil).Restore()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 300+100+1, restored)
	for _, ns := range []namespace.Namespace{"1/global", "1/theme:1", "1/user:2:bookmarked", "1/group:5"} {
		want, _ := src.Count(ns)
		got, err := dst.Count(ns)
		require.NoError(t, err)
		assert.Equal(t, want, got, ns)
		assert.ElementsMatch(t, src.Members(ns), dst.Members(ns), ns)
	}
}

func TestSnapshotter_RestoreWithoutSnapshot(t *testing.T) {
	restored, err := NewSnapshotter(NewStore(nil), newMemorySnapshotStore(), time.Hour, "x", nil).Restore()

	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestSnapshotter_SkipsBrokenBlock(t *testing.T) {
	backend := newMemorySnapshotStore()
	src := NewStore(nil)
	_, _ = src.Insert("1/theme:1", 1)
	_, _ = src.Insert("1/theme:2", 2)
	manifest, err := NewSnapshotter(src, backend, time.Hour, "a", nil).Save()
	require.NoError(t, err)
	require.NoError(t, backend.Set(snapshotKey(manifest.Generation, "1/theme:1"), []byte{0x01}, 0))

	dst := NewStore(nil)
	restored, err := NewSnapshotter(dst, backend, time.Hour, "b", nil).Restore()

	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.True(t, dst.Contains("1/theme:2", 2))
}

func (m *memorySnapshotStore) SetNX(key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = []byte(value.(string))
	return true, nil
}

func TestSnapshotter_TrySaveOncePerPeriod(t *testing.T) {
	// Arrange
	backend := newMemorySnapshotStore()
	store := NewStore(nil)
	_, _ = store.Insert("1/global", 1)
	first := NewSnapshotter(store, backend, time.Hour, "a", nil)
	second := NewSnapshotter(store, backend, time.Hour, "b", nil)

	// Act
	savedA, errA := first.TrySave(backend, time.Minute)
	savedB, errB := second.TrySave(backend, time.Minute)

	// Assert
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, savedA)
	assert.False(t, savedB, "Второй экземпляр пропускает период")
	owner, err := backend.Get(snapshotLockKey)
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
}

func TestSnapshotter_TrySaveWithoutLock(t *testing.T) {
	backend := newMemorySnapshotStore()

	saved, err := NewSnapshotter(NewStore(nil), backend, time.Hour, "a", nil).TrySave(nil, time.Minute)

	require.NoError(t, err)
	assert.True(t, saved)
}
