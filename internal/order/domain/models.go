package domain

import (
	"context"
	"strings"

	customerdomain "github.com/smallbiznis/orderbridge/internal/customer/domain"
	"github.com/smallbiznis/orderbridge/internal/failure"
)

// LineItem is one cart row. UnitPrice is in minor units.
type LineItem struct {
	ProductRef   string `json:"product_ref"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	BillingCycle string `json:"billing_cycle"`
	Description  string `json:"description,omitempty"`
}

type Cart struct {
	Customer     customerdomain.Input `json:"customer"`
	Items        []LineItem           `json:"items"`
	AffiliateRef string               `json:"affiliate_ref,omitempty"`
	Currency     string               `json:"currency"`
}

type State string

const (
	StateStart            State = "start"
	StateClientResolved   State = "client_resolved"
	StateDraftCreated     State = "draft_created"
	StateItemsAttached    State = "items_attached"
	StateConverted        State = "converted"
	StateReferrerAssigned State = "referrer_assigned"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

type Affiliate struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Result struct {
	RunID         string                  `json:"run_id"`
	OrderID       string                  `json:"order_id"`
	InvoiceID     string                  `json:"invoice_id"`
	Customer      customerdomain.Customer `json:"customer"`
	Affiliate     *Affiliate              `json:"affiliate,omitempty"`
	AttachedUnits int                     `json:"attached_units"`
	State         State                   `json:"state"`
	Issues        []failure.Issue         `json:"issues"`
}

// Assembler turns a cart into one Billing order and invoice.
type Assembler interface {
	Run(ctx context.Context, cart Cart) (Result, error)
}

// StepError is the terminal failure of an assembly run. Reached is the last
// state completed before Step failed.
type StepError struct {
	Step    string
	Reached State
	Err     error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

var (
	ErrEmptyCart      = failure.New(failure.KindValidation, "empty_cart")
	ErrNoValidItems   = failure.New(failure.KindValidation, "no_valid_items")
	ErrMissingInvoice = failure.New(failure.KindUpstream, "invoice_unresolved")
)

var cycleCodes = map[string]string{
	"monthly":      "m",
	"quarterly":    "q",
	"semiannually": "s",
	"annually":     "a",
	"biennially":   "b",
	"triennially":  "t",
}

// CycleCode maps a billing cycle token to Billing's single letter code.
// An empty token means monthly.
func CycleCode(token string) (string, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		token = "monthly"
	}
	code, ok := cycleCodes[token]
	return code, ok
}
