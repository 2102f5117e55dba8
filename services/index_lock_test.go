package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, locker IndexLocker) {
	ctx := context.Background()
	id := uuid.NewString()

	release, ok, err := locker.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second run must not get the lease")

	other, ok, err := locker.TryLock(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.True(t, ok, "other documents are independent")
	other()

	release()
	release2, ok, err := locker.TryLock(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestLocalIndexLocker(t *testing.T) {
	exerciseLocker(t, NewLocalIndexLocker())
}

func TestRedisIndexLocker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()

	exerciseLocker(t, NewRedisIndexLocker(client, time.Minute))
}
