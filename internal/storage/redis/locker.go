// Package redis holds the Redis-backed pieces shared across API instances:
// the coupon usage lock and the rate limit window counter.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/couponengine/coupon-engine/internal/domain/redemption"
)

// KeyPrefix namespaces lock keys.
const KeyPrefix = "coupon-engine:cap:"

// ErrLockTimeout is returned when the lock was not acquired within the wait.
// It matches redemption.ErrBusy.
var ErrLockTimeout = errors.Wrap(redemption.ErrBusy, "coupon usage lock timeout")

const retryInterval = 25 * time.Millisecond

// Release only when the key still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements redemption.Locker with SET NX PX and a token-checked
// release.
type Locker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker creates a Locker. ttl bounds how long a crashed holder keeps the
// lock; wait bounds how long Lock retries before giving up.
func NewLocker(client goredis.UniversalClient, ttl, wait time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, wait: wait}
}

// Lock acquires the lock for key, retrying until the wait elapses or ctx is
// done.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	name := KeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire %s", name)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := unlockScript.Run(ctx, l.client, []string{name}, token).Err(); err != nil {
					return errors.Wrapf(err, "release %s", name)
				}
				return nil
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}
		t := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Ping reports whether Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
