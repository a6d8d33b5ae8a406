package aggregate

import (
	"context"
	"time"
)

const snapshotLockKey = "aggsnap:lock"

// SnapshotLock - распределённая блокировка периода снимков (реализуется redis.CacheRepo)
type SnapshotLock interface {
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
}

// TrySave сохраняет снимок, если в текущем периоде его ещё не сохранил другой экземпляр.
// Блокировка живёт чуть меньше интервала и не снимается явно.
func (s *Snapshotter) TrySave(lock SnapshotLock, interval time.Duration) (bool, error) {
	if lock != nil {
		ttl := interval - interval/10
		if ttl <= 0 {
			ttl = interval
		}
		acquired, err := lock.SetNX(snapshotLockKey, s.instanceID, ttl)
		if err != nil {
			return false, err
		}
		if !acquired {
			s.log.Debugf("[Snapshotter] Снимок этого периода сохраняет другой экземпляр")
			return false, nil
		}
	}
	if _, err := s.Save(); err != nil {
		return false, err
	}
	return true, nil
}

// RunPeriodic сохраняет снимки с заданным интервалом до отмены ctx
func (s *Snapshotter) RunPeriodic(ctx context.Context, lock SnapshotLock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infof("[Snapshotter] Периодические снимки каждые %s", interval)
	for {
		select {
		case <-ticker.C:
			if _, err := s.TrySave(lock, interval); err != nil {
				s.log.Errorf("[Snapshotter] Ошибка сохранения снимка: %v", err)
			}
		case <-ctx.Done():
			s.log.Infof("[Snapshotter] Завершение периодических снимков")
			return
		}
	}
}
