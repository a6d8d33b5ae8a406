package repository

import (
	"time"
)

// CacheRepository определяет операции над общим Redis: счётчики лимитов,
// JSON-записи заданий ремонта и кеша таксономии, блоки снимков и блокировки.
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Increment(key string) (int64, error)
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
	ExpireAt(key string, expiration time.Time) error
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
}
