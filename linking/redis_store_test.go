package linking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newLockStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis, *observer.ObservedLogs) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	core, logs := observer.New(zap.WarnLevel)
	s := NewRedisStore(rdb, "test")
	s.lockTTL = ttl
	s.log = zap.New(core)
	return s, mr, logs
}

func TestRedisLockIsRenewedWhileHeld(t *testing.T) {
	s, mr, logs := newLockStore(t, 300*time.Millisecond)

	unlock, err := s.Lock(context.Background())
	require.NoError(t, err)
	mr.SetTTL("test:lock", time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.TTL("test:lock") > 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:lock"))
	assert.Zero(t, logs.Len())
}

func TestRedisLockReleaseLogsLostLock(t *testing.T) {
	s, mr, logs := newLockStore(t, 10*time.Second)

	unlock, err := s.Lock(context.Background())
	require.NoError(t, err)
	mr.Del("test:lock")
	unlock()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "linking lock expired before release", logs.All()[0].Message)

	again, err := s.Lock(context.Background())
	require.NoError(t, err)
	again()
}
