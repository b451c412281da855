// Package billingtest provides Billing client doubles for saga tests.
package billingtest

import (
	"context"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/stretchr/testify/mock"
)

// Mock is a testify mock of domain.Client.
type Mock struct {
	mock.Mock
}

var _ domain.Client = (*Mock)(nil)

func (m *Mock) FindCustomerByEmail(ctx context.Context, email string) (domain.Customer, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Customer), args.Error(1)
}

func (m *Mock) SearchRecentCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	args := m.Called(ctx, limit)
	customers, _ := args.Get(0).([]domain.Customer)
	return customers, args.Error(1)
}

func (m *Mock) GetCustomerDetailsByEmail(ctx context.Context, email string) (domain.Customer, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Customer), args.Error(1)
}

func (m *Mock) CreateCustomer(ctx context.Context, input domain.NewCustomer) (domain.Customer, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(domain.Customer), args.Error(1)
}

func (m *Mock) CreateDraftOrder(ctx context.Context, customerID, currency string) (domain.DraftOrder, error) {
	args := m.Called(ctx, customerID, currency)
	return args.Get(0).(domain.DraftOrder), args.Error(1)
}

func (m *Mock) AttachDraftItem(ctx context.Context, draftID string, item domain.DraftItem) error {
	return m.Called(ctx, draftID, item).Error(0)
}

func (m *Mock) ConvertDraftOrder(ctx context.Context, draftID string) (domain.ConvertResult, error) {
	args := m.Called(ctx, draftID)
	return args.Get(0).(domain.ConvertResult), args.Error(1)
}

func (m *Mock) GetOrderDetails(ctx context.Context, orderID string) (domain.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(domain.Order), args.Error(1)
}

func (m *Mock) ActivateOrder(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *Mock) AcceptOrder(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *Mock) GetAffiliate(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	args := m.Called(ctx, affiliateID)
	return args.Get(0).(domain.Affiliate), args.Error(1)
}

func (m *Mock) AssignOrderAffiliate(ctx context.Context, orderID, affiliateID string) error {
	return m.Called(ctx, orderID, affiliateID).Error(0)
}

func (m *Mock) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(domain.Invoice), args.Error(1)
}

func (m *Mock) AddInvoicePayment(ctx context.Context, input domain.PaymentInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *Mock) CapturePayment(ctx context.Context, input domain.PaymentInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *Mock) SetInvoiceStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus) error {
	return m.Called(ctx, invoiceID, status).Error(0)
}

func (m *Mock) TriggerProvisioning(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}
