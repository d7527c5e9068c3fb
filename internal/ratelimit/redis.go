package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow counts calls in the current window and arms the expiry on the
// first one. Returns the count after incrementing.
var fixedWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Redis is a fixed window limiter shared by every relay using the same Redis.
type Redis struct {
	client    redis.Scripter
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRedis allows limit calls per window for each key. Keys are stored under
// keyPrefix.
func NewRedis(client redis.Scripter, keyPrefix string, limit int, window time.Duration) *Redis {
	if window <= 0 {
		window = time.Minute
	}
	return &Redis{client: client, keyPrefix: keyPrefix, limit: limit, window: window}
}

// Allow counts the call against key's window.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	n, err := fixedWindow.Run(ctx, r.client, []string{r.keyPrefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return n <= int64(r.limit), nil
}
