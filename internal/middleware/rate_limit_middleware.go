package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// RateLimitConfig содержит настройки rate limiting
type RateLimitConfig struct {
	// MaxRequests - максимальное количество запросов за Window (0 - без ограничения)
	MaxRequests int
	// Window - временное окно для подсчёта запросов
	Window time.Duration
	// KeyPrefix - префикс для ключей в кеше
	KeyPrefix string
}

// SampleRateLimitConfig возвращает конфигурацию для эндпоинтов выборки
func SampleRateLimitConfig(perMinute int) RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: perMinute,
		Window:      time.Minute,
		KeyPrefix:   "rl:sample",
	}
}

// RateLimiter ограничивает частоту запросов счётчиками фиксированного окна в кеше (Redis)
type RateLimiter struct {
	cache repository.CacheRepository
	log   *logger.Logger
	now   func() time.Time
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(cache repository.CacheRepository, log *logger.Logger) *RateLimiter {
	return &RateLimiter{cache: cache, log: logger.OrNop(log), now: time.Now}
}

// Limit возвращает Gin middleware с заданной конфигурацией.
// Ключ формируется из IP, шаблона маршрута и номера окна.
func (rl *RateLimiter) Limit(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.MaxRequests <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		now := rl.now()
		windowStart := now.Truncate(cfg.Window)
		windowEnd := windowStart.Add(cfg.Window)
		key := fmt.Sprintf("%s:%s:%s:%d", cfg.KeyPrefix, clientIP, path, windowStart.Unix())

		count, err := rl.cache.Increment(key)
		if err != nil {
			// При ошибке кеша пропускаем запрос (fail-open), но логируем
			rl.log.Warnf("[RateLimiter] Cache error for key %s: %v. Allowing request (fail-open).", key, err)
			c.Next()
			return
		}

		// Первый запрос в окне - ключ живёт до конца окна
		if count == 1 {
			if err := rl.cache.ExpireAt(key, windowEnd); err != nil {
				rl.log.Warnf("[RateLimiter] Failed to set expiry for key %s: %v", key, err)
			}
		}

		remaining := cfg.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		retryAfter := int(windowEnd.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", retryAfter))

		if int(count) > cfg.MaxRequests {
			rl.log.Infof("[RateLimiter] Rate limit exceeded for IP=%s path=%s. Count=%d, Limit=%d",
				clientIP, path, count, cfg.MaxRequests)

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please try again later.",
				"error_type":  "rate_limited",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
