package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
)

// RateKeyPrefix namespaces rate limit windows.
const RateKeyPrefix = "coupon-engine:rate:"

// Start the expiry on the first hit of a window.
var hitScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// WindowCounter is a fixed-window request counter shared by all API
// instances.
type WindowCounter struct {
	client goredis.UniversalClient
}

// NewWindowCounter creates a WindowCounter.
func NewWindowCounter(client goredis.UniversalClient) *WindowCounter {
	return &WindowCounter{client: client}
}

// Hit increments the window of key and returns the count and time left.
func (c *WindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := hitScript.Run(ctx, c.client, []string{RateKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, errors.Wrap(err, "rate limit hit")
	}
	if len(res) != 2 {
		return 0, 0, errors.Errorf("unexpected rate limit reply %v", res)
	}
	return res[0], time.Duration(max(res[1], 0)) * time.Millisecond, nil
}
