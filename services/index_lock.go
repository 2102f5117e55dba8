package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"learning-coach-platform/internal/logger"
)

// IndexLocker grants one indexing run per document at a time. TryLock
// reports ok=false when another run holds the lease; release is nil then.
type IndexLocker interface {
	TryLock(ctx context.Context, documentID string) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIndexLocker leases "lock:index:<id>" with SET NX PX.
type RedisIndexLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIndexLocker(client *redis.Client, ttl time.Duration) *RedisIndexLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisIndexLocker{client: client, ttl: ttl}
}

func (l *RedisIndexLocker) TryLock(ctx context.Context, documentID string) (func(), bool, error) {
	key := "lock:index:" + documentID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the run's own context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			logger.Warn("Failed to release index lock", "document_id", documentID, "error", err)
		}
	}
	return release, true, nil
}

// LocalIndexLocker is an in-process lock set for single-process runs.
type LocalIndexLocker struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

func NewLocalIndexLocker() *LocalIndexLocker {
	return &LocalIndexLocker{locked: make(map[string]struct{})}
}

func (l *LocalIndexLocker) TryLock(_ context.Context, documentID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locked[documentID]; held {
		return nil, false, nil
	}
	l.locked[documentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locked, documentID)
			l.mu.Unlock()
		})
	}, true, nil
}
