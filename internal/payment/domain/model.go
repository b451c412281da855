package domain

import (
	"context"
	"strings"

	"github.com/smallbiznis/orderbridge/internal/failure"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
)

// Source names where a reconcile trigger came from.
type Source string

const (
	SourceReturn   Source = "return"
	SourceWebhook  Source = "webhook"
	SourceRecovery Source = "recovery"
	SourceAPI      Source = "api"
)

// Status is the reconcile result shown to the caller.
type Status string

const (
	StatusPaid       Status = "paid"
	StatusPending    Status = "pending"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusUnknown    Status = "unknown"
	StatusProcessing Status = "processing"
)

// StatusFromGateway maps a verified gateway status. Authorized funds are not
// captured yet and count as pending.
func StatusFromGateway(status gatewaydomain.Status) Status {
	switch status {
	case gatewaydomain.StatusPaid:
		return StatusPaid
	case gatewaydomain.StatusPending, gatewaydomain.StatusAuthorized:
		return StatusPending
	case gatewaydomain.StatusCancelled:
		return StatusCancelled
	case gatewaydomain.StatusFailed:
		return StatusFailed
	case gatewaydomain.StatusRefunded:
		return StatusRefunded
	default:
		return StatusUnknown
	}
}

type State string

const (
	StateInitiated             State = "initiated"
	StateGatewayRedirectIssued State = "gateway_redirect_issued"
	StateStatusVerified        State = "status_verified"
	StateAuthorized            State = "authorized"
	StateCaptured              State = "captured"
	StateProvisionTriggered    State = "provision_triggered"
)

type Step string

const (
	StepAuthorize Step = "authorize"
	StepCapture   Step = "capture"
	StepProvision Step = "provision"
)

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

type InitializeRequest struct {
	OrderID     string `json:"order_id"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Email       string `json:"email"`
	Cycle       string `json:"cycle,omitempty"`
	Description string `json:"description,omitempty"`
}

type InitializeResult struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
	Provider      string `json:"provider"`
	State         State  `json:"state"`
}

// Trigger is the common shape of a return redirect, a webhook and a
// recovery retry. StatusHint and AmountHint come from the caller and are
// never used to decide settlement on their own.
type Trigger struct {
	TransactionID string
	ReferenceID   string
	OrderID       string
	Method        string
	Provider      string
	AmountHint    int64
	StatusHint    gatewaydomain.Status
	Source        Source

	SkipAuthorize bool
	SkipProvision bool
}

type Outcome struct {
	TransactionID string                   `json:"transaction_id"`
	InvoiceID     string                   `json:"invoice_id,omitempty"`
	OrderID       string                   `json:"order_id,omitempty"`
	Status        Status                   `json:"status"`
	State         State                    `json:"state"`
	Amount        int64                    `json:"amount,omitempty"`
	Currency      string                   `json:"currency,omitempty"`
	Source        Source                   `json:"source"`
	Deduplicated  bool                     `json:"deduplicated"`
	Steps         map[Step]StepStatus      `json:"steps,omitempty"`
	Record        *settlementdomain.Record `json:"record,omitempty"`
	Issues        []failure.Issue          `json:"issues,omitempty"`
}

// Settled reports whether the outcome carries a settled record.
func (o Outcome) Settled() bool {
	return o.Record != nil && o.Record.Settled()
}

type RefundResult struct {
	TransactionID string          `json:"transaction_id"`
	InvoiceID     string          `json:"invoice_id"`
	Amount        int64           `json:"amount"`
	Status        Status          `json:"status"`
	Issues        []failure.Issue `json:"issues,omitempty"`
}

type CancelResult struct {
	TransactionID string `json:"transaction_id"`
	Status        Status `json:"status"`
}

// Orchestrator drives payments from redirect to provisioning.
type Orchestrator interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Reconcile(ctx context.Context, trigger Trigger) (Outcome, error)
	Cancel(ctx context.Context, transactionID, method string) (CancelResult, error)
	Refund(ctx context.Context, transactionID string, amount int64) (RefundResult, error)
}

var (
	ErrUnsupportedMethod    = gatewaydomain.ErrUnsupportedMethod
	ErrInvalidAmount        = failure.New(failure.KindValidation, "invalid_amount")
	ErrMissingEmail         = failure.New(failure.KindValidation, "missing_email")
	ErrMissingInvoice       = failure.New(failure.KindValidation, "missing_invoice")
	ErrMissingTransactionID = failure.New(failure.KindValidation, "missing_transaction_id")
	ErrAmountUnresolved     = failure.New(failure.KindUpstream, "amount_unresolved")
	ErrCaptureFailed        = failure.New(failure.KindUpstream, "capture_failed")
	ErrNotSettled           = failure.New(failure.KindConflict, "payment_not_settled")
	ErrAlreadySettled       = failure.New(failure.KindConflict, "payment_already_settled")
)

// NormalizeEmail trims and lowercases an address, returning "" when it is
// not plausibly an email.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
