package domain

import (
	"context"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/failure"
)

// Input is the customer identity submitted with an order.
type Input struct {
	Email       string                `json:"email"`
	FirstName   string                `json:"first_name"`
	LastName    string                `json:"last_name"`
	CompanyName string                `json:"company_name,omitempty"`
	Phone       string                `json:"phone,omitempty"`
	Address     billingdomain.Address `json:"address"`
}

// Customer is a resolved Billing customer. Email is always the caller's
// original address and is the key used downstream; BillingEmail is what
// Billing stored, which may differ.
type Customer struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	BillingEmail string `json:"billing_email,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	CompanyName  string `json:"company_name,omitempty"`
	Reused       bool   `json:"reused"`
}

type Resolver interface {
	Resolve(ctx context.Context, input Input) (Customer, []failure.Issue, error)
}

var (
	ErrInvalidEmail     = failure.New(failure.KindValidation, "invalid_email")
	ErrCustomerCreation = failure.New(failure.KindUpstream, "customer_creation_failed")
)
