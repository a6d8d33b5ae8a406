package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// defaultOpTimeout ограничивает одну команду Redis
const defaultOpTimeout = 2 * time.Second

// CacheRepo реализует repository.CacheRepository поверх UniversalClient
type CacheRepo struct {
	client    redis.UniversalClient
	opTimeout time.Duration
}

// NewCacheRepo создает новый репозиторий кеша
func NewCacheRepo(client redis.UniversalClient) (*CacheRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil for CacheRepo")
	}
	return &CacheRepo{client: client, opTimeout: defaultOpTimeout}, nil
}

func (r *CacheRepo) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opTimeout)
}

// Set сохраняет значение (строка, []byte или число) с временем жизни
func (r *CacheRepo) Set(key string, value interface{}, expiration time.Duration) error {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Get возвращает значение ключа или ErrNotFound
func (r *CacheRepo) Get(key string) (string, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Increment атомарно увеличивает счётчик окна лимита
func (r *CacheRepo) Increment(key string) (int64, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.Incr(ctx, key).Result()
}

func (r *CacheRepo) SetJSON(key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *CacheRepo) GetJSON(key string, dest interface{}) error {
	ctx, cancel := r.opContext()
	defer cancel()
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// ExpireAt задаёт момент истечения ключа (конец окна лимита)
func (r *CacheRepo) ExpireAt(key string, expiration time.Time) error {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.ExpireAt(ctx, key, expiration).Err()
}

// SetNX устанавливает ключ, только если его ещё нет.
// Используется как блокировка периода снимка: true означает, что блокировку взял этот экземпляр.
func (r *CacheRepo) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.SetNX(ctx, key, value, expiration).Result()
}
