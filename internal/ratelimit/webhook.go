package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbridge/internal/config"
	"go.uber.org/zap"
)

const keyWebhookProvider = "orderbridge:webhook:%s"

// WebhookLimiter throttles inbound gateway notifications per provider. It
// admits everything when Redis is not configured and fails open on Redis
// errors so that settlement is never blocked by the limiter.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewWebhookLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) *WebhookLimiter {
	if client == nil || cfg.RateLimit.WebhookRate <= 0 || cfg.RateLimit.WebhookBurst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.WebhookRate,
		burst:  cfg.RateLimit.WebhookBurst,
		log:    log.Named("ratelimit.webhook"),
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	key := fmt.Sprintf(keyWebhookProvider, strings.ToLower(strings.TrimSpace(provider)))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("webhook rate limit check failed", zap.String("provider", provider), zap.Error(err))
		return Result{Allowed: true}
	}
	return res
}
