package domain

import "time"

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusUnpaid    InvoiceStatus = "Unpaid"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
	InvoiceStatusRefunded  InvoiceStatus = "Refunded"
)

type Address struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	PostCode string `json:"post_code"`
	Country  string `json:"country"`
}

// Customer is a client record as stored by Billing.
type Customer struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	CompanyName string    `json:"company_name,omitempty"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Address     Address   `json:"address"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type NewCustomer struct {
	FirstName   string
	LastName    string
	CompanyName string
	Email       string
	Phone       string
	Address     Address
	Currency    string
}

type DraftOrder struct {
	ID         string
	CustomerID string
}

// DraftItem is always attached with quantity one.
type DraftItem struct {
	ProductID   string
	CycleCode   string
	UnitPrice   int64
	Currency    string
	Description string
}

type ConvertResult struct {
	OrderID       string
	InvoiceID     string
	InvoiceStatus InvoiceStatus
}

type Order struct {
	ID         string
	CustomerID string
	InvoiceID  string
	Status     string
}

type Affiliate struct {
	ID     string
	Name   string
	Status string
}

type InvoicePayment struct {
	TransactionID string
	Amount        int64
	Method        string
	Date          time.Time
}

type Invoice struct {
	ID         string
	CustomerID string
	Status     InvoiceStatus
	Total      int64
	Currency   string
	Payments   []InvoicePayment
}

// HasTransaction reports whether a payment with transactionID is already
// recorded on the invoice.
func (i Invoice) HasTransaction(transactionID string) bool {
	if transactionID == "" {
		return false
	}
	for _, p := range i.Payments {
		if p.TransactionID == transactionID {
			return true
		}
	}
	return false
}

// PaymentInput records money received against an invoice.
type PaymentInput struct {
	InvoiceID     string
	TransactionID string
	Amount        int64
	Currency      string
	Method        string
	Date          time.Time
}
