package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/smallbiznis/orderbridge/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client talks to the Billing RPC endpoint: every call is a form POST with an
// action name, and every response is a JSON object carrying result=success or
// result=error with a message.
type Client struct {
	endpoint   string
	identifier string
	secret     string
	accessKey  string
	http       *http.Client
	log        *zap.Logger
	tracer     trace.Tracer
}

func NewService(p Params) domain.Client {
	return New(p.Cfg.Billing, nil, p.Log)
}

// New builds a client. A nil httpClient gets one with the configured timeout.
func New(cfg config.BillingConfig, httpClient *http.Client, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimSpace(cfg.URL),
		identifier: cfg.Identifier,
		secret:     cfg.Secret,
		accessKey:  cfg.AccessKey,
		http:       httpClient,
		log:        log.Named("billing.client"),
		tracer:     otel.Tracer("orderbridge/billing"),
	}
}

type envelope struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

// call posts action with params and decodes the response into out.
func (c *Client) call(ctx context.Context, action string, params url.Values, out any) error {
	if c.endpoint == "" {
		return domain.ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "billing."+action, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("billing.action", action))

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("action", action)
	form.Set("identifier", c.identifier)
	form.Set("secret", c.secret)
	form.Set("responsetype", "json")
	if c.accessKey != "" {
		form.Set("accesskey", c.accessKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport")
		c.log.Warn("billing call failed", zap.String("action", action), zap.Error(err))
		return failure.Upstream("billing_unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return failure.Upstream("billing_unavailable", err)
	}
	c.log.Debug("billing call",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, "http status")
		var env envelope
		_ = json.Unmarshal(body, &env)
		return failure.Upstream("billing_http_error", &failure.StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(env.Message),
		})
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, action, err)
	}
	if !strings.EqualFold(env.Result, "success") {
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = "billing_request_failed"
		}
		span.SetStatus(codes.Error, "remote error")
		return &failure.Error{
			Kind: failure.KindUpstream,
			Code: "billing_remote_error",
			Err:  &domain.RemoteError{Action: action, Message: message},
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidResponse, action, err)
	}
	return nil
}

// remoteMessage returns the Billing message carried by err, if any.
func remoteMessage(err error) string {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return ""
}

func isNotFoundMessage(err error) bool {
	msg := strings.ToLower(remoteMessage(err))
	return strings.Contains(msg, "not found")
}
