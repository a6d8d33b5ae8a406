package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// SnapshotStore - хранилище снимков (реализуется redis.CacheRepo)
type SnapshotStore interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
}

const snapshotManifestKey = "aggsnap:manifest"

// SnapshotManifest описывает последний сохранённый снимок
type SnapshotManifest struct {
	Generation int64                  `json:"generation"`
	CreatedAt  time.Time              `json:"created_at"`
	InstanceID string                 `json:"instance_id"`
	Namespaces []SnapshotManifestItem `json:"namespaces"`
}

// SnapshotManifestItem - одно пространство в снимке
type SnapshotManifestItem struct {
	Namespace namespace.Namespace `json:"ns"`
	Count     uint64              `json:"count"`
}

// Snapshotter сохраняет и восстанавливает содержимое хранилища.
// Каждое пространство кодируется roaring64-битмапом; порядок вставки не сохраняется,
// после восстановления ранги идут по возрастанию id.
type Snapshotter struct {
	store      *Store
	backend    SnapshotStore
	ttl        time.Duration
	instanceID string
	log        *logger.Logger
}

// NewSnapshotter создает снапшоттер
func NewSnapshotter(store *Store, backend SnapshotStore, ttl time.Duration, instanceID string, log *logger.Logger) *Snapshotter {
	return &Snapshotter{
		store:      store,
		backend:    backend,
		ttl:        ttl,
		instanceID: instanceID,
		log:        logger.OrNop(log),
	}
}

func snapshotKey(generation int64, ns namespace.Namespace) string {
	return fmt.Sprintf("aggsnap:%d:%s", generation, ns)
}

// Save сохраняет снимок всех пространств и возвращает манифест.
// Манифест пишется последним, поэтому незаконченный снимок никогда не читается.
func (s *Snapshotter) Save() (*SnapshotManifest, error) {
	manifest := &SnapshotManifest{
		Generation: time.Now().UnixNano(),
		CreatedAt:  time.Now(),
		InstanceID: s.instanceID,
	}

	for _, ns := range s.store.Namespaces() {
		bm := roaring64.New()
		bm.AddMany(s.store.Members(ns))
		bm.RunOptimize()

		data, err := bm.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot of %s: %w", ns, err)
		}
		if err := s.backend.Set(snapshotKey(manifest.Generation, ns), data, s.ttl); err != nil {
			return nil, fmt.Errorf("save snapshot of %s: %w", ns, err)
		}
		manifest.Namespaces = append(manifest.Namespaces, SnapshotManifestItem{Namespace: ns, Count: bm.GetCardinality()})
	}

	if err := s.backend.SetJSON(snapshotManifestKey, manifest, s.ttl); err != nil {
		return nil, fmt.Errorf("save snapshot manifest: %w", err)
	}
	s.log.Infof("[Snapshotter] Снимок %d сохранён: %d пространств", manifest.Generation, len(manifest.Namespaces))
	return manifest, nil
}

// Restore загружает последний снимок в хранилище. Отсутствие снимка - не ошибка (restored = 0).
// Пространство, чей блок не читается, пропускается: его восстановит ремонт.
func (s *Snapshotter) Restore() (int, error) {
	var manifest SnapshotManifest
	if err := s.backend.GetJSON(snapshotManifestKey, &manifest); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.log.Infof("[Snapshotter] Снимок не найден, восстановление пропущено")
			return 0, nil
		}
		return 0, fmt.Errorf("load snapshot manifest: %w", err)
	}

	restored := 0
	for _, item := range manifest.Namespaces {
		raw, err := s.backend.Get(snapshotKey(manifest.Generation, item.Namespace))
		if err != nil {
			s.log.Warnf("[Snapshotter] Блок %s не прочитан: %v", item.Namespace, err)
			continue
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary([]byte(raw)); err != nil {
			s.log.Warnf("[Snapshotter] Блок %s повреждён: %v", item.Namespace, err)
			continue
		}
		restored += s.store.Load(item.Namespace, bm.ToArray())
	}

	s.log.Infof("[Snapshotter] Восстановлен снимок %d от %s: %d элементов", manifest.Generation, manifest.CreatedAt.Format(time.RFC3339), restored)
	return restored, nil
}

// Load вставляет набор id в пространство под одной блокировкой. Возвращает число добавленных.
func (s *Store) Load(ns namespace.Namespace, ids []uint64) int {
	t := s.ensure(ns)
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, id := range ids {
		if t.insertLocked(id) {
			added++
		}
	}
	return added
}
