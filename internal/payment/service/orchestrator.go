package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/events"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	gatewayservice "github.com/smallbiznis/orderbridge/internal/gateway/service"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/orderbridge/internal/observability/metrics"
	"github.com/smallbiznis/orderbridge/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sagaName = "payment"

	defaultClaimTTL    = 2 * time.Minute
	defaultCallTimeout = 20 * time.Second
)

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Billing   billingdomain.Client
	Gateway   *gatewayservice.Service
	Store     settlementdomain.Store
	Ledger    ledgerdomain.Mirror
	Catalog   *config.CatalogHolder
	Clock     clock.Clock
	Publisher events.Publisher    `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Service is the payment orchestrator. Return redirects, webhooks and the
// recovery worker all settle through Reconcile, which applies the Billing
// side of a payment at most once per gateway transaction.
type Service struct {
	log       *zap.Logger
	billing   billingdomain.Client
	gateway   *gatewayservice.Service
	store     settlementdomain.Store
	ledger    ledgerdomain.Mirror
	catalog   *config.CatalogHolder
	clock     clock.Clock
	publisher events.Publisher
	metrics   *obsmetrics.Metrics
	tracer    trace.Tracer

	baseURL     string
	claimTTL    time.Duration
	callTimeout time.Duration
}

func NewService(p Params) domain.Orchestrator {
	return New(p)
}

func New(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewFallback(p.Log)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Cfg.Settlement.ClaimTTL
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &Service{
		log:         p.Log.Named("payment.orchestrator"),
		billing:     p.Billing,
		gateway:     p.Gateway,
		store:       p.Store,
		ledger:      p.Ledger,
		catalog:     p.Catalog,
		clock:       clk,
		publisher:   publisher,
		metrics:     p.Metrics,
		tracer:      otel.Tracer("orderbridge/payment"),
		baseURL:     strings.TrimRight(strings.TrimSpace(p.Cfg.PublicBaseURL), "/"),
		claimTTL:    ttl,
		callTimeout: defaultCallTimeout,
	}
}

// ClaimTTL is how long a settlement claim is honoured before takeover.
func (s *Service) ClaimTTL() time.Duration {
	return s.claimTTL
}

func (s *Service) Initialize(ctx context.Context, req domain.InitializeRequest) (domain.InitializeResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.initialize")
	defer span.End()

	target, err := s.gateway.Resolve(req.Method)
	if err != nil {
		return domain.InitializeResult{}, err
	}
	if req.Amount <= 0 {
		return domain.InitializeResult{}, domain.ErrInvalidAmount
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		return domain.InitializeResult{}, domain.ErrMissingEmail
	}
	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return domain.InitializeResult{}, domain.ErrMissingInvoice
	}

	provider := target.Adapter.Provider()
	callback := url.Values{}
	callback.Set("order_id", strings.TrimSpace(req.OrderID))
	callback.Set("invoice_id", invoiceID)
	callback.Set("amount", strconv.FormatInt(req.Amount, 10))
	callback.Set("method", target.Method)
	if cycle := strings.TrimSpace(req.Cycle); cycle != "" {
		callback.Set("cycle", cycle)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Invoice #" + invoiceID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	payment, err := s.gateway.CreatePayment(callCtx, target, gatewaydomain.CreatePaymentRequest{
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		ReferenceID: invoiceID,
		OrderNumber: invoiceID,
		Email:       email,
		Description: description,
		ReturnURL:   s.baseURL + "/payments/return?" + callback.Encode(),
		NotifyURL:   s.baseURL + "/webhooks/" + provider + "?" + callback.Encode(),
		Metadata: map[string]string{
			"order_id":   strings.TrimSpace(req.OrderID),
			"invoice_id": invoiceID,
			"method":     target.Method,
			"cycle":      strings.TrimSpace(req.Cycle),
		},
	})
	if err != nil {
		s.log.Warn("payment creation failed",
			zap.String("invoice_id", invoiceID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return domain.InitializeResult{}, err
	}

	span.SetAttributes(
		attribute.String("payment.transaction_id", payment.TransactionID),
		attribute.String("payment.provider", provider),
	)
	s.log.Info("payment initialized",
		zap.String("transaction_id", payment.TransactionID),
		zap.String("invoice_id", invoiceID),
		zap.String("order_id", req.OrderID),
		zap.String("provider", provider),
	)
	return domain.InitializeResult{
		TransactionID: payment.TransactionID,
		RedirectURL:   payment.RedirectURL,
		Provider:      provider,
		State:         domain.StateGatewayRedirectIssued,
	}, nil
}

// providerFor picks the gateway that owns a trigger's transaction.
func (s *Service) providerFor(provider, method string) string {
	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		return provider
	}
	if profile, ok := s.catalog.Get().Method(method); ok {
		return profile.Provider
	}
	return ""
}

func (s *Service) billingMethod(provider, method string) string {
	if profile, ok := s.catalog.Get().Method(method); ok && profile.BillingMethod != "" {
		return profile.BillingMethod
	}
	return provider
}

// withTimeout runs fn with a bounded context.
func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(callCtx)
}

func (s *Service) timed(ctx context.Context, step string, fn func()) {
	start := time.Now()
	fn()
	s.metrics.RecordStep(ctx, sagaName, step, time.Since(start))
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, eventType string, payload map[string]any) error {
	err := s.publisher.Publish(ctx, events.New(eventType, s.clock.Now(), payload).Correlate(ctx))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
		return err
	}
	return nil
}
