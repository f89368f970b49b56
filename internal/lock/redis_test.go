package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillars-watch/internal/logger"
)

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)

const testKey = "pillars-watch:lock:user:1"

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return newRedisLocker(client, ttl, logger.Nop()), m
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	l, m := newTestRedisLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, m.Exists(testKey))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "user:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.False(t, m.Exists(testKey))

	again, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)
	again()
}

func TestRedisLockerExtendsWhileHeld(t *testing.T) {
	l, m := newTestRedisLocker(t, 300*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)

	// Почти весь TTL прошёл, а пайплайн ещё работает
	m.FastForward(250 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return m.TTL(testKey) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	m.FastForward(250 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return m.TTL(testKey) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Exists(testKey))

	unlock()
	assert.False(t, m.Exists(testKey))
}

func TestRedisLockerKeepsForeignLock(t *testing.T) {
	l, m := newTestRedisLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), "user:1")
	require.NoError(t, err)

	// Блокировка истекла и её забрал другой экземпляр
	require.NoError(t, m.Set(testKey, "other-instance"))
	unlock()

	got, err := m.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", got)
}
