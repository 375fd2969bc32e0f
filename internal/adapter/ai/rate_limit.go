package ai

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

const rateKeyPrefix = "oracle:rate:"

// tokenBucketScript refills the bucket from the elapsed time and takes one
// token when available. It returns {allowed, tokens, retry_after_seconds}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] then
  tokens = tonumber(data[1])
end
if data[2] then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
elseif refill_rate > 0 then
  retry_after = (cost - tokens) / refill_rate
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, math.ceil(capacity / refill_rate) + 60)

return { allowed, tostring(tokens), tostring(retry_after) }
`)

// Bucket is a token bucket sized from a per-minute quota.
type Bucket struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// BucketPerMinute returns a bucket allowing perMinute calls, bursting up to perMinute.
func BucketPerMinute(perMinute int) Bucket {
	if perMinute <= 0 {
		return Bucket{}
	}
	return Bucket{Capacity: int64(perMinute), RefillRate: float64(perMinute) / 60.0}
}

// RateLimitedOracle enforces a per-minute quota shared by every replica
// through a Redis token bucket.
type RateLimitedOracle struct {
	base   domain.Oracle
	rdb    redis.Scripter
	bucket Bucket
	key    string
	now    func() time.Time
}

// NewRateLimitedOracle wraps base. When rdb is nil or the bucket is empty,
// base is returned unmodified.
func NewRateLimitedOracle(base domain.Oracle, rdb redis.Scripter, name string, bucket Bucket) domain.Oracle {
	if base == nil || rdb == nil || bucket.Capacity <= 0 || bucket.RefillRate <= 0 {
		return base
	}
	return &RateLimitedOracle{base: base, rdb: rdb, bucket: bucket, key: rateKeyPrefix + name, now: time.Now}
}

// Ready delegates to the wrapped oracle.
func (l *RateLimitedOracle) Ready() bool {
	if rr, ok := l.base.(domain.ReadinessReporter); ok {
		return rr.Ready()
	}
	return true
}

// Complete takes one token then forwards. Redis errors fail open; the
// provider's own 429 handling still applies downstream.
func (l *RateLimitedOracle) Complete(ctx domain.Context, req domain.OracleRequest) (string, error) {
	allowed, retryAfter, err := l.allow(ctx)
	if err != nil {
		slog.Warn("oracle rate limiter unavailable", slog.String("key", l.key), slog.Any("error", err))
	} else if !allowed {
		return "", fmt.Errorf("op=ai.RateLimitedOracle.Complete: retry after %s: %w",
			retryAfter.Round(time.Second), domain.ErrUpstreamRateLimit)
	}
	return l.base.Complete(ctx, req)
}

func (l *RateLimitedOracle) allow(ctx domain.Context) (bool, time.Duration, error) {
	nowSec := float64(l.now().UnixNano()) / 1e9
	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.key}, l.bucket.Capacity, l.bucket.RefillRate, nowSec, 1).Slice()
	if err != nil {
		return true, 0, err
	}
	if len(res) < 3 {
		return true, 0, fmt.Errorf("unexpected script result %v", res)
	}
	allowed, _ := res[0].(int64)
	retrySec := toFloat(res[2])
	if math.IsNaN(retrySec) || retrySec < 0 {
		retrySec = 0
	}
	return allowed == 1, time.Duration(retrySec * float64(time.Second)), nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
