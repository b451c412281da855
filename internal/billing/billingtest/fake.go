package billingtest

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
)

// Fake is a stateful in-memory Billing. Error fields make the matching call
// fail; call counters are keyed by method name.
type Fake struct {
	mu sync.Mutex

	Customers map[string]domain.Customer
	Invoices  map[string]domain.Invoice
	Orders    map[string]domain.Order
	// Items holds the attached draft items of each converted order.
	Items  map[string][]domain.DraftItem
	drafts map[string][]domain.DraftItem
	nextID int

	// ConvertAsPaid makes conversion create the invoice already Paid.
	ConvertAsPaid bool
	// OmitConvertInvoice drops the invoice id from the conversion result.
	OmitConvertInvoice bool
	// UnknownAffiliates lists affiliate ids GetAffiliate reports as missing.
	UnknownAffiliates map[string]bool

	ActivateErr   error
	AcceptErr     error
	AddPaymentErr error
	CaptureErr    error
	SetStatusErr  error
	ProvisionErr  error
	GetInvoiceErr error

	calls map[string]int
}

var _ domain.Client = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Customers: map[string]domain.Customer{},
		Invoices:  map[string]domain.Invoice{},
		Orders:    map[string]domain.Order{},
		Items:     map[string][]domain.DraftItem{},
		drafts:    map[string][]domain.DraftItem{},
		nextID:    100,
		calls:     map[string]int{},
	}
}

// AddInvoice seeds an unpaid invoice.
func (f *Fake) AddInvoice(id string, total int64, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invoices[id] = domain.Invoice{ID: id, Status: domain.InvoiceStatusUnpaid, Total: total, Currency: currency}
}

func (f *Fake) Invoice(id string) domain.Invoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Invoices[id]
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) SetError(target *error, err error) {
	f.mu.Lock()
	*target = err
	f.mu.Unlock()
}

func (f *Fake) track(method string) {
	f.calls[method]++
}

func (f *Fake) id() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *Fake) FindCustomerByEmail(_ context.Context, email string) (domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("FindCustomerByEmail")
	for _, c := range f.Customers {
		if strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return domain.Customer{}, domain.ErrNotFound
}

func (f *Fake) SearchRecentCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("SearchRecentCustomers")
	out := make([]domain.Customer, 0, len(f.Customers))
	for _, c := range f.Customers {
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GetCustomerDetailsByEmail(ctx context.Context, email string) (domain.Customer, error) {
	return f.FindCustomerByEmail(ctx, email)
}

func (f *Fake) CreateCustomer(_ context.Context, input domain.NewCustomer) (domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("CreateCustomer")
	c := domain.Customer{
		ID:        f.id(),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
	}
	f.Customers[c.ID] = c
	return c, nil
}

func (f *Fake) CreateDraftOrder(_ context.Context, customerID, _ string) (domain.DraftOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("CreateDraftOrder")
	id := f.id()
	f.drafts[id] = nil
	return domain.DraftOrder{ID: id, CustomerID: customerID}, nil
}

func (f *Fake) AttachDraftItem(_ context.Context, draftID string, item domain.DraftItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("AttachDraftItem")
	if _, ok := f.drafts[draftID]; !ok {
		return domain.ErrNotFound
	}
	f.drafts[draftID] = append(f.drafts[draftID], item)
	return nil
}

func (f *Fake) ConvertDraftOrder(_ context.Context, draftID string) (domain.ConvertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("ConvertDraftOrder")
	items, ok := f.drafts[draftID]
	if !ok {
		return domain.ConvertResult{}, domain.ErrNotFound
	}
	delete(f.drafts, draftID)

	var total int64
	currency := ""
	for _, item := range items {
		total += item.UnitPrice
		currency = item.Currency
	}
	status := domain.InvoiceStatusUnpaid
	if f.ConvertAsPaid {
		status = domain.InvoiceStatusPaid
	}
	orderID, invoiceID := f.id(), f.id()
	f.Orders[orderID] = domain.Order{ID: orderID, InvoiceID: invoiceID, Status: "Pending"}
	f.Invoices[invoiceID] = domain.Invoice{ID: invoiceID, Status: status, Total: total, Currency: currency}
	f.Items[orderID] = items
	result := domain.ConvertResult{OrderID: orderID, InvoiceID: invoiceID, InvoiceStatus: status}
	if f.OmitConvertInvoice {
		result.InvoiceID = ""
		result.InvoiceStatus = ""
	}
	return result, nil
}

func (f *Fake) GetOrderDetails(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("GetOrderDetails")
	order, ok := f.Orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (f *Fake) ActivateOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("ActivateOrder")
	if f.ActivateErr != nil {
		return f.ActivateErr
	}
	order := f.Orders[orderID]
	order.ID = orderID
	order.Status = "Active"
	f.Orders[orderID] = order
	return nil
}

func (f *Fake) AcceptOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("AcceptOrder")
	if f.AcceptErr != nil {
		return f.AcceptErr
	}
	order := f.Orders[orderID]
	order.ID = orderID
	order.Status = "Active"
	f.Orders[orderID] = order
	return nil
}

func (f *Fake) GetAffiliate(_ context.Context, affiliateID string) (domain.Affiliate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("GetAffiliate")
	if f.UnknownAffiliates[affiliateID] {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return domain.Affiliate{ID: affiliateID, Status: "Active"}, nil
}

func (f *Fake) AssignOrderAffiliate(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("AssignOrderAffiliate")
	return nil
}

func (f *Fake) GetInvoice(_ context.Context, invoiceID string) (domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("GetInvoice")
	if f.GetInvoiceErr != nil {
		return domain.Invoice{}, f.GetInvoiceErr
	}
	invoice, ok := f.Invoices[invoiceID]
	if !ok {
		return domain.Invoice{}, domain.ErrNotFound
	}
	invoice.Payments = append([]domain.InvoicePayment(nil), invoice.Payments...)
	return invoice, nil
}

func (f *Fake) AddInvoicePayment(_ context.Context, input domain.PaymentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("AddInvoicePayment")
	if f.AddPaymentErr != nil {
		return f.AddPaymentErr
	}
	return f.recordPayment(input)
}

func (f *Fake) CapturePayment(_ context.Context, input domain.PaymentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("CapturePayment")
	if f.CaptureErr != nil {
		return f.CaptureErr
	}
	return f.recordPayment(input)
}

func (f *Fake) recordPayment(input domain.PaymentInput) error {
	invoice, ok := f.Invoices[input.InvoiceID]
	if !ok {
		return domain.ErrNotFound
	}
	invoice.Payments = append(invoice.Payments, domain.InvoicePayment{
		TransactionID: input.TransactionID,
		Amount:        input.Amount,
		Method:        input.Method,
	})
	f.Invoices[input.InvoiceID] = invoice
	return nil
}

func (f *Fake) SetInvoiceStatus(_ context.Context, invoiceID string, status domain.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("SetInvoiceStatus")
	if f.SetStatusErr != nil {
		return f.SetStatusErr
	}
	invoice, ok := f.Invoices[invoiceID]
	if !ok {
		return domain.ErrNotFound
	}
	invoice.Status = status
	f.Invoices[invoiceID] = invoice
	return nil
}

func (f *Fake) TriggerProvisioning(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track("TriggerProvisioning")
	return f.ProvisionErr
}
