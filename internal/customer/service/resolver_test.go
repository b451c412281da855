package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/billing/billingtest"
	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/customer/domain"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func duplicateErr(msg string) error {
	return &failure.Error{
		Kind: failure.KindUpstream,
		Code: "billing_remote_error",
		Err:  &billingdomain.RemoteError{Action: "AddClient", Message: msg},
	}
}

func TestResolve(t *testing.T) {
	input := domain.Input{Email: " x@y.cz ", FirstName: "Jan", LastName: "Novak"}

	tests := []struct {
		name       string
		input      domain.Input
		setup      func(m *billingtest.Mock)
		wantErr    error
		wantID     string
		wantReused bool
		wantIssue  string
	}{
		{
			name:    "missing email",
			input:   domain.Input{FirstName: "Jan"},
			setup:   func(m *billingtest.Mock) {},
			wantErr: domain.ErrInvalidEmail,
		},
		{
			name:  "exact match is reused",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").
					Return(billingdomain.Customer{ID: "8", FirstName: "jan", LastName: "NOVAK", Email: "X@Y.cz"}, nil)
			},
			wantID:     "8",
			wantReused: true,
		},
		{
			name:  "mismatched last name creates a new customer",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").
					Return(billingdomain.Customer{ID: "8", FirstName: "Jan", LastName: "Different", Email: "x@y.cz"}, nil)
				m.On("CreateCustomer", mock.Anything, mock.MatchedBy(func(c billingdomain.NewCustomer) bool {
					return c.Email == "x@y.cz" && c.LastName == "Novak"
				})).Return(billingdomain.Customer{ID: "9", FirstName: "Jan", LastName: "Novak", Email: "x@y.cz"}, nil)
			},
			wantID:    "9",
			wantIssue: "customer_mismatch",
		},
		{
			name:  "duplicate rejection recovered from recent customers",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
				m.On("CreateCustomer", mock.Anything, mock.Anything).
					Return(billingdomain.Customer{}, duplicateErr("A user already exists with that email address"))
				m.On("SearchRecentCustomers", mock.Anything, 50).
					Return([]billingdomain.Customer{{ID: "3", Email: "other@y.cz"}, {ID: "4", FirstName: "Jan", LastName: "Novak", Email: "X@y.cz"}}, nil)
			},
			wantID:     "4",
			wantReused: true,
			wantIssue:  "customer_already_exists",
		},
		{
			name:  "duplicate rejection recovered by details lookup",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
				m.On("CreateCustomer", mock.Anything, mock.Anything).
					Return(billingdomain.Customer{}, duplicateErr("Duplicate Email Address"))
				m.On("SearchRecentCustomers", mock.Anything, 50).Return(nil, errors.New("timeout"))
				m.On("GetCustomerDetailsByEmail", mock.Anything, "x@y.cz").
					Return(billingdomain.Customer{ID: "5", FirstName: "Jan", LastName: "Novak", Email: "x@y.cz"}, nil)
			},
			wantID:     "5",
			wantReused: true,
			wantIssue:  "customer_already_exists",
		},
		{
			name:  "duplicate rejection never reuses a mismatched customer",
			input: input,
			setup: func(m *billingtest.Mock) {
				different := billingdomain.Customer{ID: "8", FirstName: "Jan", LastName: "Different", Email: "x@y.cz"}
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(different, nil)
				m.On("CreateCustomer", mock.Anything, mock.Anything).
					Return(billingdomain.Customer{}, duplicateErr("A user already exists with that email address"))
				m.On("SearchRecentCustomers", mock.Anything, 50).Return([]billingdomain.Customer{different}, nil)
			},
			wantErr: domain.ErrCustomerCreation,
		},
		{
			name:  "duplicate rejection with no recovery fails",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
				m.On("CreateCustomer", mock.Anything, mock.Anything).
					Return(billingdomain.Customer{}, duplicateErr("client already exists"))
				m.On("SearchRecentCustomers", mock.Anything, 50).Return([]billingdomain.Customer{}, nil)
				m.On("GetCustomerDetailsByEmail", mock.Anything, "x@y.cz").
					Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
			},
			wantErr: domain.ErrCustomerCreation,
		},
		{
			name:  "other create failure is not recovered",
			input: input,
			setup: func(m *billingtest.Mock) {
				m.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
				m.On("CreateCustomer", mock.Anything, mock.Anything).
					Return(billingdomain.Customer{}, duplicateErr("Invalid country"))
			},
			wantErr: domain.ErrCustomerCreation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			billing := new(billingtest.Mock)
			tt.setup(billing)
			resolver := NewResolver(billing, 50, zaptest.NewLogger(t))

			customer, issues, err := resolver.Resolve(context.Background(), tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				billing.AssertExpectations(t)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, customer.ID)
			assert.Equal(t, "x@y.cz", customer.Email)
			assert.Equal(t, tt.wantReused, customer.Reused)
			if tt.wantIssue != "" {
				require.NotEmpty(t, issues)
				assert.Equal(t, tt.wantIssue, issues[len(issues)-1].Code)
			} else {
				assert.Empty(t, issues)
			}
			billing.AssertExpectations(t)
		})
	}
}

func TestResolveKeepsCallerEmailWhenBillingAltersIt(t *testing.T) {
	billing := new(billingtest.Mock)
	billing.On("FindCustomerByEmail", mock.Anything, "x@y.cz").Return(billingdomain.Customer{}, billingdomain.ErrNotFound)
	billing.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(billingdomain.Customer{ID: "42", FirstName: "Jan", LastName: "Novak", Email: "x+1@y.cz"}, nil)

	customer, issues, err := NewResolver(billing, 0, nil).Resolve(context.Background(), domain.Input{
		Email: "x@y.cz", FirstName: "Jan", LastName: "Novak",
	})
	require.NoError(t, err)
	assert.Equal(t, "x@y.cz", customer.Email)
	assert.Equal(t, "x+1@y.cz", customer.BillingEmail)
	require.Len(t, issues, 1)
	assert.Equal(t, failure.KindIntegrity, issues[0].Kind)
	assert.Equal(t, "customer_email_altered", issues[0].Code)
}

func TestLooksLikeDuplicate(t *testing.T) {
	assert.True(t, looksLikeDuplicate(duplicateErr("Email address already in use")))
	assert.False(t, looksLikeDuplicate(duplicateErr("maintenance")))
	assert.False(t, looksLikeDuplicate(errors.New("already exists")))
}
