package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrInvalidBucket = errors.New("invalid_rate_limit_bucket")
)

// The token count is returned as a string so fractional refills survive the
// Lua to RESP integer conversion.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

// Bucket sizes a token bucket: Rate tokens per second up to Burst.
type Bucket struct {
	Rate  float64
	Burst int
}

func (b Bucket) validate() error {
	if b.Rate <= 0 || b.Burst <= 0 || math.IsInf(b.Rate, 0) || math.IsNaN(b.Rate) {
		return ErrInvalidBucket
	}
	return nil
}

// ttl keeps idle buckets around for twice the time a full refill takes.
func (b Bucket) ttl() time.Duration {
	if b.validate() != nil {
		return time.Second
	}
	seconds := math.Ceil(float64(b.Burst) / b.Rate * 2)
	return time.Duration(max(seconds, 1)) * time.Second
}

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from the bucket stored at key. Redis errors are
// returned as is; callers decide whether to fail open or closed.
func (t *TokenBucket) Allow(ctx context.Context, key string, bucket Bucket) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidBucket)
	}
	if err := bucket.validate(); err != nil {
		return nil, err
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		bucket.Rate, bucket.Burst, bucket.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("token bucket script returned %d values", len(res))
	}
	return buildResult(toInt(res[0]) == 1, toFloat(res[1]), toInt(res[2]), bucket), nil
}

func buildResult(allowed bool, remaining float64, nowMillis int64, bucket Bucket) *RateLimitResult {
	var retryAfter time.Duration
	if !allowed && remaining < 1 {
		retryAfter = time.Duration((1 - remaining) / bucket.Rate * float64(time.Second))
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      bucket.Burst,
		Remaining:  int(math.Floor(remaining)),
		ResetTime:  time.UnixMilli(nowMillis).Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
