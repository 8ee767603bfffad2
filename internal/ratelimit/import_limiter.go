package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/receivables/internal/config"
)

const keyImportActor = "receivables:import:actor:%s"

// ImportLimiter throttles spreadsheet uploads per actor. It allows
// everything when redis is not configured.
type ImportLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewImportLimiter(cfg config.Config, client *redis.Client) *ImportLimiter {
	perMinute := cfg.Import.RatePerMinute
	burst := cfg.Import.Burst
	if client == nil || perMinute <= 0 || burst <= 0 {
		return &ImportLimiter{}
	}
	return &ImportLimiter{
		bucket: NewTokenBucket(client),
		rate:   perMinute / 60,
		burst:  burst,
	}
}

func (l *ImportLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one upload slot for actor.
func (l *ImportLimiter) Allow(ctx context.Context, actor string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyImportActor, actor), l.rate, l.burst)
}
