package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/utils"
)

// RequestCounter counts requests per key inside a fixed window.
type RequestCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter shares counts across API replicas.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Set expiration on first request
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count, nil
}

// LocalCounter keeps windows in process memory for single-node runs.
// Expired windows are swept at most once per sweepEvery.
type LocalCounter struct {
	mu         sync.Mutex
	windows    map[string]*localWindow
	now        func() time.Time
	sweepEvery time.Duration
	nextSweep  time.Time
}

type localWindow struct {
	count   int64
	resetAt time.Time
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		windows:    make(map[string]*localWindow),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

func (l *LocalCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		l.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (l *LocalCounter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.nextSweep = now.Add(l.sweepEvery)
}

// RateLimitMiddleware limits requests per client IP and route. Counter
// errors let the request through.
func RateLimitMiddleware(counter RequestCounter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip rate limiting for health checks
		if limit <= 0 || c.FullPath() == "/health" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()
		count, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			// Fail open - don't block requests if Redis is down
			logger.Warn("Rate limit counter unavailable", "error", err)
			c.Next()
			return
		}

		if count > int64(limit) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))

			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": int(window.Seconds()),
					"limit":       limit,
				})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
		c.Next()
	}
}
