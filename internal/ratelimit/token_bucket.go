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

// takeToken refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2], tries to take
// one token and keeps the hash for ARGV[3] ms. Replies {allowed, tokens, now_ms}.
var takeToken = redis.NewScript(`
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens, last = tonumber(state[1]), tonumber(state[2])
if tokens == nil then
  tokens = burst
else
  tokens = math.min(burst, tokens + math.max(0, now - last) / 1000 * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end
redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`)

var (
	ErrLimiterNotConfigured = errors.New("rate_limiter_not_configured")
	ErrLimiterInvalidArgs   = errors.New("rate_limiter_invalid_args")
	ErrLimiterBadResponse   = errors.New("rate_limiter_bad_response")
)

// TokenBucket is a redis-held bucket shared by every instance.
type TokenBucket struct {
	client *redis.Client
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetTime  time.Time
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from the bucket at key. rate is tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, ErrLimiterNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return Result{}, ErrLimiterInvalidArgs
	}
	raw, err := takeToken.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	reply, err := parseReply(raw)
	if err != nil {
		return Result{}, err
	}
	return reply.result(rate, burst), nil
}

type bucketReply struct {
	allowed bool
	tokens  float64
	at      time.Time
}

func parseReply(raw []any) (bucketReply, error) {
	if len(raw) < 3 {
		return bucketReply{}, ErrLimiterBadResponse
	}
	var nums [3]float64
	for i := range nums {
		n, err := number(raw[i])
		if err != nil {
			return bucketReply{}, fmt.Errorf("%w: %v", ErrLimiterBadResponse, err)
		}
		nums[i] = n
	}
	return bucketReply{
		allowed: nums[0] == 1,
		tokens:  nums[1],
		at:      time.UnixMilli(int64(nums[2])),
	}, nil
}

// result derives the wait for the next whole token from the refill rate.
func (r bucketReply) result(rate float64, burst int) Result {
	res := Result{
		Allowed:   r.allowed,
		Limit:     burst,
		Remaining: int(math.Floor(r.tokens)),
		ResetTime: r.at,
	}
	if !r.allowed && r.tokens < 1 {
		res.RetryAfter = time.Duration((1 - r.tokens) / rate * float64(time.Second))
		res.ResetTime = r.at.Add(res.RetryAfter)
	}
	return res
}

// bucketTTL keeps an idle bucket for twice its full refill time, at least 1s.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return max(time.Second, time.Duration(2*float64(burst)/rate*float64(time.Second)))
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
