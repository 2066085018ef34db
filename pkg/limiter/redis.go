package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "ratelimit:"
	defaultTimeout = 5 * time.Second

	// violationTTL bounds how long a violation counter survives in the
	// shared backend without further denials.
	violationTTL = time.Hour
)

// takeScript runs the whole check-and-update cycle in one round trip so no
// two concurrent requests from the same key can both claim the last slot.
// The same clock reading (ARGV[1]) is used for expiry and insertion.
//
// Returns {allowed, effective_limit, remaining, multiplier, retry_after_s}.
var takeScript = redis.NewScript(`
local window_key = KEYS[1]
local violation_key = KEYS[2]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local max_multiplier = tonumber(ARGV[4])
local member = ARGV[5]
local violation_ttl_ms = tonumber(ARGV[6])

redis.call('ZREMRANGEBYSCORE', window_key, '-inf', now_ms - window_ms)
local count = redis.call('ZCARD', window_key)

local violations = tonumber(redis.call('GET', violation_key) or '0')
local multiplier = 1
if max_multiplier > 1 and violations > 0 then
	multiplier = 2 ^ violations
	if multiplier > max_multiplier then
		multiplier = max_multiplier
	end
end

local effective = math.floor(limit / multiplier)
if effective < 1 then
	effective = 1
end

if count >= effective then
	redis.call('INCR', violation_key)
	redis.call('PEXPIRE', violation_key, violation_ttl_ms)
	local retry = math.ceil((window_ms / 1000) * multiplier)
	return {0, effective, 0, multiplier, retry}
end

redis.call('ZADD', window_key, now_ms, member)
redis.call('PEXPIRE', window_key, window_ms + 1000)
if violations > 0 then
	redis.call('DEL', violation_key)
end
return {1, effective, effective - count - 1, multiplier, 0}
`)

// RedisStore implements Store against a shared Redis backend.
//
// It keeps one sorted set of request timestamps per client plus a TTL'd
// violation counter colocated in the same script call, so backoff costs no
// extra round trip. It is safe to use from many application instances at
// once; atomicity is delegated to the Lua script.
type RedisStore struct {
	client        *redis.Client
	prefix        string
	timeout       time.Duration
	maxMultiplier int
	recorder      MetricsRecorder
}

// NewRedisStore creates a RedisStore and verifies the backend is reachable.
// A failed probe returns an error; the caller (normally the Engine) then
// falls back to local-only evaluation.
func NewRedisStore(client *redis.Client, opts ...RedisOption) (*RedisStore, error) {
	s := &RedisStore{
		client:        client,
		prefix:        defaultPrefix,
		timeout:       defaultTimeout,
		maxMultiplier: DefaultMaxBackoff,
		recorder:      &NoOpMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis store probe: %w", err)
	}
	return s, nil
}

func (s *RedisStore) windowKey(id Identity) string    { return s.prefix + "window:" + id.String() }
func (s *RedisStore) violationKey(id Identity) string { return s.prefix + "violations:" + id.String() }

// Take evaluates the sliding window for id under rule in a single atomic
// round trip, bounded by the store timeout.
func (s *RedisStore) Take(ctx context.Context, id Identity, rule Rule) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now()
	member := uuid.NewString()
	start := now

	raw, err := takeScript.Run(ctx, s.client,
		[]string{s.windowKey(id), s.violationKey(id)},
		now.UnixMilli(),
		rule.Window.Milliseconds(),
		rule.Requests,
		s.maxMultiplier,
		member,
		violationTTL.Milliseconds(),
	).Result()

	s.recorder.Add("ratelimit.call", 1, map[string]string{"backend": "redis"})
	s.recorder.Observe("ratelimit.latency", float64(time.Since(start).Microseconds())/1000, nil)

	if err != nil {
		return Result{}, fmt.Errorf("redis take: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 5 {
		return Result{}, errors.New("redis take: unexpected script reply")
	}

	allowed := asInt(values[0]) == 1
	res := Result{
		Allowed:           allowed,
		Limit:             int(asInt(values[1])),
		Remaining:         int(asInt(values[2])),
		ResetAt:           now.Unix() + int64(rule.Window/time.Second),
		BackoffMultiplier: int(asInt(values[3])),
	}
	if allowed {
		res.EntryID = member
	} else {
		res.RetryAfter = int(asInt(values[4]))
		s.recorder.Add("ratelimit.denied", 1, map[string]string{"backend": "redis"})
	}
	return res, nil
}

// Forget removes a recorded entry, refunding its window slot. Used to apply
// SkipSuccessful/SkipFailed once the response outcome is known.
func (s *RedisStore) Forget(ctx context.Context, id Identity, entryID string) error {
	if entryID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.ZRem(ctx, s.windowKey(id), entryID).Err()
}

// Reset drops the window and violation state for a single client.
func (s *RedisStore) Reset(ctx context.Context, id Identity) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, s.windowKey(id), s.violationKey(id)).Err()
}

// Flush removes every key under the store prefix via SCAN, for operational
// resets. Not part of the request path.
func (s *RedisStore) Flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
