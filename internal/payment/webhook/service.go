package webhook

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/orderbridge/internal/failure"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	gatewayservice "github.com/smallbiznis/orderbridge/internal/gateway/service"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/smallbiznis/orderbridge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Gateway      *gatewayservice.Service
	Orchestrator paymentdomain.Orchestrator
	Limiter      *ratelimit.WebhookLimiter `optional:"true"`
}

// Service turns provider notifications into reconcile triggers.
type Service struct {
	log          *zap.Logger
	gateway      *gatewayservice.Service
	orchestrator paymentdomain.Orchestrator
	limiter      *ratelimit.WebhookLimiter
}

var ErrRateLimited = failure.New(failure.KindRateLimit, "webhook_rate_limited")

func NewService(p Params) *Service {
	return &Service{
		log:          p.Log.Named("payment.webhook"),
		gateway:      p.Gateway,
		orchestrator: p.Orchestrator,
		limiter:      p.Limiter,
	}
}

// Ingest verifies and parses a notification, then reconciles it. The
// notification's status is passed along as a hint only.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header, query url.Values) (paymentdomain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.Outcome{}, gatewaydomain.ErrProviderNotFound
	}
	if res := s.limiter.Allow(ctx, provider); !res.Allowed {
		s.log.Warn("webhook rate limited", zap.String("provider", provider), zap.Duration("retry_after", res.RetryAfter))
		return paymentdomain.Outcome{}, ErrRateLimited
	}

	notification, err := s.gateway.ParseNotification(ctx, provider, payload, headers, query)
	if err != nil {
		s.log.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
		return paymentdomain.Outcome{}, err
	}

	trigger := paymentdomain.CallbackTrigger(query, paymentdomain.SourceWebhook)
	trigger.TransactionID = notification.TransactionID
	trigger.Provider = notification.Provider
	trigger.StatusHint = notification.StatusHint
	if notification.ReferenceID != "" {
		trigger.ReferenceID = notification.ReferenceID
	}

	return s.orchestrator.Reconcile(ctx, trigger)
}
