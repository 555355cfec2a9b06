package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript bumps the counter and starts the window's expiry on the first
// hit, atomically. Returns {count, pttl-ms}.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisCounterStore keeps windowed counters in Redis so limits hold across
// process restarts.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore wraps an existing client. Keys are namespaced under
// the given prefix.
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (s *RedisCounterStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis incr: unexpected reply %T", res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	return count, time.Now().Add(time.Duration(ttlMs) * time.Millisecond), nil
}

func (s *RedisCounterStore) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.key(key))
	ttlCmd := pipe.PTTL(ctx, s.key(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis peek: %w", err)
	}

	count, err := getCmd.Int64()
	if err == redis.Nil {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis peek count: %w", err)
	}
	ttl, err := ttlCmd.Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis peek ttl: %w", err)
	}
	return count, time.Now().Add(ttl), nil
}
