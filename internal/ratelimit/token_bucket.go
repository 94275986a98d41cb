package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "layerflow:ratelimit"

// spendScript refills a bucket for the time since it was last touched, then
// takes ARGV[4] tokens when the balance covers them. It replies with
// {allowed, whole tokens left, milliseconds until the cost is affordable}.
var spendScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "balance", "touched_ms")
local balance = tonumber(state[1]) or capacity
local touched = tonumber(state[2]) or now_ms

if now_ms > touched then
  balance = math.min(capacity, balance + (now_ms - touched) * capacity / window_ms)
end

local allowed = 0
local wait_ms = 0
if balance >= cost then
  balance = balance - cost
  allowed = 1
else
  wait_ms = math.ceil((cost - balance) * window_ms / capacity)
end

redis.call("HSET", KEYS[1], "balance", balance, "touched_ms", math.max(now_ms, touched))
redis.call("PEXPIRE", KEYS[1], 2 * window_ms)
return {allowed, math.floor(balance), wait_ms}
`)

// RedisTokenBucket keeps one bucket per subject in Redis so every API replica
// spends from the same balance. A full bucket holds capacity tokens and
// refills completely over one window.
type RedisTokenBucket struct {
	client   redis.UniversalClient
	capacity int64
	window   time.Duration
	prefix   string
	now      func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if window < time.Millisecond {
		return nil, errors.New("window must be at least one millisecond")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:   client,
		capacity: int64(capacity),
		window:   window,
		prefix:   keyPrefix,
		now:      time.Now,
	}, nil
}

func (b *RedisTokenBucket) key(subject string) string {
	return b.prefix + ":" + normalizeSubject(subject)
}

// Allow spends cost tokens from the subject's bucket. Costs are clamped to
// [1, capacity] so an oversized request drains a full bucket instead of
// waiting forever.
func (b *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = clampCost(cost, b.capacity)

	reply, err := spendScript.Run(
		ctx,
		b.client,
		[]string{b.key(subject)},
		b.capacity,
		b.window.Milliseconds(),
		b.now().UnixMilli(),
		cost,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("spend %d tokens: %w", cost, err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket replied with %d values", len(reply))
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		Limit:      b.capacity,
		Cost:       cost,
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
