package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/customer/domain"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const stepResolve = "resolve_customer"

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Billing billingdomain.Client
}

type Service struct {
	log        *zap.Logger
	billing    billingdomain.Client
	recentScan int
}

func New(p Params) domain.Resolver {
	return NewResolver(p.Billing, p.Cfg.Billing.RecentCustomerScan, p.Log)
}

func NewResolver(billing billingdomain.Client, recentScan int, log *zap.Logger) *Service {
	if recentScan <= 0 {
		recentScan = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:        log.Named("customer.resolver"),
		billing:    billing,
		recentScan: recentScan,
	}
}

// Resolve reuses a Billing customer only when every submitted identity field
// matches it; any disagreement creates a new customer.
func (s *Service) Resolve(ctx context.Context, input domain.Input) (domain.Customer, []failure.Issue, error) {
	input = normalizeInput(input)
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		return domain.Customer{}, nil, domain.ErrInvalidEmail
	}

	var issues []failure.Issue

	existing, err := s.billing.FindCustomerByEmail(ctx, input.Email)
	switch {
	case err == nil:
		if matches(existing, input) {
			s.log.Debug("reusing billing customer", zap.String("customer_id", existing.ID))
			c := toCustomer(existing, input.Email)
			c.Reused = true
			return c, nil, nil
		}
		s.log.Warn("billing customer does not match submitted identity, creating new",
			zap.String("customer_id", existing.ID),
			zap.String("email", input.Email),
		)
		issues = append(issues, failure.Warning(stepResolve, "customer_mismatch",
			fmt.Sprintf("customer %s has the same email but different name", existing.ID)))
	case errors.Is(err, billingdomain.ErrNotFound):
	default:
		// Creation below surfaces a real outage.
		s.log.Warn("customer lookup failed", zap.String("email", input.Email), zap.Error(err))
		issues = append(issues, failure.IssueFrom(stepResolve, err))
	}

	created, err := s.billing.CreateCustomer(ctx, billingdomain.NewCustomer{
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		CompanyName: input.CompanyName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
	})
	if err == nil {
		c := toCustomer(created, input.Email)
		if created.Email != "" && !strings.EqualFold(created.Email, input.Email) {
			s.log.Warn("billing altered customer email",
				zap.String("customer_id", created.ID),
				zap.String("email", input.Email),
				zap.String("billing_email", created.Email),
			)
			issues = append(issues, failure.Warning(stepResolve, "customer_email_altered",
				"billing stored "+created.Email))
		}
		return c, issues, nil
	}

	if !looksLikeDuplicate(err) {
		return domain.Customer{}, issues, fmt.Errorf("%w: %v", domain.ErrCustomerCreation, err)
	}

	recovered, rerr := s.recoverDuplicate(ctx, input.Email)
	if rerr != nil {
		s.log.Warn("duplicate customer recovery failed",
			zap.String("email", input.Email),
			zap.NamedError("create_error", err),
			zap.Error(rerr),
		)
		return domain.Customer{}, issues, fmt.Errorf("%w: %v", domain.ErrCustomerCreation, err)
	}
	if !matches(recovered, input) {
		s.log.Warn("duplicate customer does not match submitted identity",
			zap.String("customer_id", recovered.ID),
			zap.String("email", input.Email),
		)
		issues = append(issues, failure.Warning(stepResolve, "customer_mismatch",
			fmt.Sprintf("billing rejected a new customer and %s has a different name", recovered.ID)))
		return domain.Customer{}, issues, fmt.Errorf("%w: %v", domain.ErrCustomerCreation, err)
	}
	issues = append(issues, failure.Issue{
		Step:    stepResolve,
		Kind:    failure.KindConflict,
		Code:    "customer_already_exists",
		Message: "reused customer " + recovered.ID + " after duplicate rejection",
	})
	c := toCustomer(recovered, input.Email)
	c.Reused = true
	return c, issues, nil
}

func normalizeInput(input domain.Input) domain.Input {
	input.Email = strings.TrimSpace(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.CompanyName = strings.TrimSpace(input.CompanyName)
	input.Phone = strings.TrimSpace(input.Phone)
	return input
}

func matches(existing billingdomain.Customer, input domain.Input) bool {
	return strings.EqualFold(strings.TrimSpace(existing.Email), input.Email) &&
		strings.EqualFold(strings.TrimSpace(existing.FirstName), input.FirstName) &&
		strings.EqualFold(strings.TrimSpace(existing.LastName), input.LastName)
}

func toCustomer(c billingdomain.Customer, originalEmail string) domain.Customer {
	return domain.Customer{
		ID:           c.ID,
		Email:        originalEmail,
		BillingEmail: c.Email,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		CompanyName:  c.CompanyName,
	}
}
