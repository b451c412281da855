package domain

import (
	"context"

	"github.com/smallbiznis/orderbridge/internal/failure"
)

// Client is the typed surface of the Billing RPC API used by the sagas.
type Client interface {
	FindCustomerByEmail(ctx context.Context, email string) (Customer, error)
	SearchRecentCustomers(ctx context.Context, limit int) ([]Customer, error)
	GetCustomerDetailsByEmail(ctx context.Context, email string) (Customer, error)
	CreateCustomer(ctx context.Context, input NewCustomer) (Customer, error)

	CreateDraftOrder(ctx context.Context, customerID, currency string) (DraftOrder, error)
	AttachDraftItem(ctx context.Context, draftID string, item DraftItem) error
	ConvertDraftOrder(ctx context.Context, draftID string) (ConvertResult, error)
	GetOrderDetails(ctx context.Context, orderID string) (Order, error)
	ActivateOrder(ctx context.Context, orderID string) error
	AcceptOrder(ctx context.Context, orderID string) error
	GetAffiliate(ctx context.Context, affiliateID string) (Affiliate, error)
	AssignOrderAffiliate(ctx context.Context, orderID, affiliateID string) error

	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	AddInvoicePayment(ctx context.Context, input PaymentInput) error
	CapturePayment(ctx context.Context, input PaymentInput) error
	SetInvoiceStatus(ctx context.Context, invoiceID string, status InvoiceStatus) error
	TriggerProvisioning(ctx context.Context, orderID string) error
}

var (
	ErrNotFound        = failure.New(failure.KindNotFound, "billing_not_found")
	ErrInvalidResponse = failure.New(failure.KindUpstream, "billing_invalid_response")
	ErrNotConfigured   = failure.New(failure.KindInternal, "billing_not_configured")
)

// RemoteError carries the message Billing returned with result=error.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Action + ": " + e.Message
}
