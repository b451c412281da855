package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters/simulated"
	"github.com/smallbiznis/orderbridge/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/orderbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Catalog  *config.CatalogHolder
	Registry *adapters.Registry
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service resolves storefront payment methods to gateway adapters and wraps
// adapter calls with retry and metrics.
type Service struct {
	cfg      config.GatewayConfig
	prod     bool
	log      *zap.Logger
	catalog  *config.CatalogHolder
	registry *adapters.Registry
	metrics  *obsmetrics.Metrics

	retryInterval time.Duration

	mu       sync.Mutex
	adapters map[string]domain.Adapter
}

// Target is a resolved payment method.
type Target struct {
	Method  string
	Profile config.PaymentMethodProfile
	Adapter domain.Adapter
}

func NewService(p Params) *Service {
	return &Service{
		cfg:           p.Cfg.Gateway,
		prod:          p.Cfg.IsProduction(),
		log:           p.Log.Named("gateway.service"),
		catalog:       p.Catalog,
		registry:      p.Registry,
		metrics:       p.Metrics,
		retryInterval: 200 * time.Millisecond,
		adapters:      map[string]domain.Adapter{},
	}
}

// SetRetryInterval changes the initial backoff between status checks.
func (s *Service) SetRetryInterval(d time.Duration) {
	s.retryInterval = d
}

// Resolve maps a payment method onto its profile and adapter.
func (s *Service) Resolve(method string) (Target, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return Target{}, domain.ErrUnsupportedMethod
	}
	profile, ok := s.catalog.Get().Method(method)
	if !ok {
		return Target{}, domain.ErrUnsupportedMethod
	}
	adapter, err := s.Adapter(profile.Provider)
	if err != nil {
		return Target{}, err
	}
	if profile.BillingMethod == "" {
		profile.BillingMethod = adapter.Provider()
	}
	return Target{Method: method, Profile: profile, Adapter: adapter}, nil
}

// Adapter returns the adapter serving provider. Providers without usable
// credentials fall back to the simulated gateway outside production.
func (s *Service) Adapter(provider string) (domain.Adapter, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = s.defaultProvider()
	}
	if s.cfg.Simulate {
		provider = simulated.Provider
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if adapter, ok := s.adapters[provider]; ok {
		return adapter, nil
	}

	adapter, err := s.registry.NewAdapter(provider, domain.AdapterConfig{Config: s.providerConfig()})
	if errors.Is(err, domain.ErrInvalidConfig) && !s.prod && provider != simulated.Provider {
		s.log.Warn("gateway credentials missing, using simulated gateway", zap.String("provider", provider))
		adapter, err = s.registry.NewAdapter(simulated.Provider, domain.AdapterConfig{})
	}
	if err != nil {
		return nil, err
	}
	s.adapters[provider] = adapter
	return adapter, nil
}

func (s *Service) defaultProvider() string {
	for _, profile := range s.catalog.Get().PaymentMethods {
		if profile.Provider != "" {
			return profile.Provider
		}
	}
	return simulated.Provider
}

func (s *Service) providerConfig() map[string]any {
	cfg := map[string]any{
		"client_id":      s.cfg.ClientID,
		"client_secret":  s.cfg.ClientSecret,
		"base_url":       s.cfg.BaseURL,
		"webhook_secret": s.cfg.WebhookSecret,
	}
	if s.cfg.GoID > 0 {
		cfg["goid"] = strconv.FormatInt(s.cfg.GoID, 10)
	}
	return cfg
}

// CreatePayment opens a gateway transaction for the resolved target.
func (s *Service) CreatePayment(ctx context.Context, target Target, req domain.CreatePaymentRequest) (domain.Payment, error) {
	req.Instrument = target.Profile.Instrument
	req.Swift = target.Profile.Swift
	payment, err := target.Adapter.CreatePayment(ctx, req)
	s.record(ctx, target.Adapter.Provider(), "create", err)
	return payment, err
}

// PaymentStatus reads the authoritative status of transactionID. Transient
// failures are retried with exponential backoff up to the configured number
// of attempts.
func (s *Service) PaymentStatus(ctx context.Context, provider, transactionID string) (domain.Payment, error) {
	adapter, err := s.Adapter(provider)
	if err != nil {
		return domain.Payment{}, err
	}

	tries := s.cfg.StatusRetries
	if tries == 0 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 2 * time.Second

	attempt := 0
	payment, err := backoff.Retry(ctx, func() (domain.Payment, error) {
		attempt++
		payment, err := adapter.GetPaymentStatus(ctx, transactionID)
		if err == nil {
			return payment, nil
		}
		if !failure.IsTransient(err) {
			return domain.Payment{}, backoff.Permanent(err)
		}
		s.log.Warn("gateway status check failed",
			zap.String("transaction_id", transactionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return domain.Payment{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))

	s.record(ctx, adapter.Provider(), "status", err)
	return payment, err
}

func (s *Service) Cancel(ctx context.Context, provider, transactionID string) (domain.Payment, error) {
	adapter, err := s.Adapter(provider)
	if err != nil {
		return domain.Payment{}, err
	}
	payment, err := adapter.CancelPayment(ctx, transactionID)
	s.record(ctx, adapter.Provider(), "cancel", err)
	return payment, err
}

func (s *Service) Refund(ctx context.Context, provider, transactionID string, amount int64) (domain.Payment, error) {
	adapter, err := s.Adapter(provider)
	if err != nil {
		return domain.Payment{}, err
	}
	payment, err := adapter.RefundPayment(ctx, transactionID, amount)
	s.record(ctx, adapter.Provider(), "refund", err)
	return payment, err
}

// ParseNotification verifies and parses a provider callback.
func (s *Service) ParseNotification(ctx context.Context, provider string, payload []byte, headers http.Header, query url.Values) (domain.Notification, error) {
	if !s.registry.ProviderExists(provider) {
		return domain.Notification{}, domain.ErrProviderNotFound
	}
	adapter, err := s.Adapter(provider)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := adapter.Verify(ctx, payload, headers, query); err != nil {
		s.record(ctx, adapter.Provider(), "notification", err)
		return domain.Notification{}, err
	}
	n, err := adapter.ParseNotification(ctx, payload, query)
	s.record(ctx, adapter.Provider(), "notification", err)
	if err != nil {
		return domain.Notification{}, err
	}
	if n.Provider == "" {
		n.Provider = adapter.Provider()
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, provider, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	s.metrics.RecordGatewayCall(ctx, provider, operation, outcome)
}
