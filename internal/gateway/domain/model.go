package domain

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/orderbridge/internal/failure"
)

// Status is the normalized state of a gateway transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
	StatusFailed     Status = "FAILED"
	StatusUnknown    Status = "UNKNOWN"
)

// NormalizeStatus maps provider state names onto Status.
func NormalizeStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCEEDED", "SUCCESS", "SETTLED":
		return StatusPaid
	case "CREATED", "PAYMENT_METHOD_CHOSEN", "PENDING", "PROCESSING":
		return StatusPending
	case "AUTHORIZED":
		return StatusAuthorized
	case "CANCELED", "CANCELLED", "TIMEOUTED", "VOIDED":
		return StatusCancelled
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return StatusRefunded
	case "FAILED", "DECLINED", "ERROR":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

type CreatePaymentRequest struct {
	Amount      int64
	Currency    string
	ReferenceID string
	OrderNumber string
	Email       string
	Description string
	Instrument  string
	Swift       string
	ReturnURL   string
	NotifyURL   string
	Metadata    map[string]string
}

// Payment is the gateway view of one transaction.
type Payment struct {
	TransactionID string
	ReferenceID   string
	Status        Status
	Amount        int64
	Currency      string
	RedirectURL   string
	Metadata      map[string]string
}

// Notification is what a provider callback tells us. Its status is a hint
// only and is never used to settle.
type Notification struct {
	Provider      string
	TransactionID string
	ReferenceID   string
	StatusHint    Status
}

type Adapter interface {
	Provider() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (Payment, error)
	GetPaymentStatus(ctx context.Context, transactionID string) (Payment, error)
	CancelPayment(ctx context.Context, transactionID string) (Payment, error)
	RefundPayment(ctx context.Context, transactionID string, amount int64) (Payment, error)

	Verify(ctx context.Context, payload []byte, headers http.Header, query url.Values) error
	ParseNotification(ctx context.Context, payload []byte, query url.Values) (Notification, error)
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

var (
	ErrProviderNotFound  = failure.New(failure.KindValidation, "provider_not_found")
	ErrInvalidConfig     = failure.New(failure.KindInternal, "invalid_config")
	ErrInvalidSignature  = failure.New(failure.KindValidation, "invalid_signature")
	ErrInvalidPayload    = failure.New(failure.KindValidation, "invalid_payload")
	ErrPaymentNotFound   = failure.New(failure.KindNotFound, "payment_not_found")
	ErrNotRefundable     = failure.New(failure.KindConflict, "payment_not_refundable")
	ErrUnsupportedMethod = failure.New(failure.KindValidation, "unsupported_payment_method")
)

// ReadString reads a string option from an adapter config map.
func ReadString(cfg map[string]any, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	raw, ok := cfg[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}
