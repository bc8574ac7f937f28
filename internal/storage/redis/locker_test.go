package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponengine/coupon-engine/internal/domain/redemption"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestLocker_LockUnlock(t *testing.T) {
	s, client := setupMiniRedis(t)
	l := NewLocker(client, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, s.Exists(KeyPrefix+"c1"))

	_, err = l.Lock(ctx, "c1")
	require.ErrorIs(t, err, ErrLockTimeout)
	require.ErrorIs(t, err, redemption.ErrBusy)

	// Other keys are independent.
	unlockOther, err := l.Lock(ctx, "c2")
	require.NoError(t, err)
	require.NoError(t, unlockOther(ctx))

	require.NoError(t, unlock(ctx))
	assert.False(t, s.Exists(KeyPrefix+"c1"))

	unlock, err = l.Lock(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	s, client := setupMiniRedis(t)
	l := NewLocker(client, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	stale, err := l.Lock(ctx, "c1")
	require.NoError(t, err)

	s.FastForward(2 * time.Second)
	require.False(t, s.Exists(KeyPrefix+"c1"))

	fresh, err := l.Lock(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, s.Exists(KeyPrefix+"c1"), "expired holder must not release the new lock")

	require.NoError(t, fresh(ctx))
	assert.False(t, s.Exists(KeyPrefix+"c1"))
}

func TestLocker_ContextCanceled(t *testing.T) {
	_, client := setupMiniRedis(t)
	l := NewLocker(client, time.Second, time.Minute)

	unlock, err := l.Lock(context.Background(), "c1")
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "c1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_MutualExclusion(t *testing.T) {
	_, client := setupMiniRedis(t)
	l := NewLocker(client, 5*time.Second, 5*time.Second)

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "c1")
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, unlock(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocker_Ping(t *testing.T) {
	s, client := setupMiniRedis(t)
	l := NewLocker(client, time.Second, time.Second)

	require.NoError(t, l.Ping(context.Background()))

	s.SetError("LOADING")
	assert.Error(t, l.Ping(context.Background()))
}
