package service

import (
	"context"
	"errors"
	"strings"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
)

// Billing has no structured "already exists" code, so a rejected create is
// recognised by its message.
var duplicateHints = []string{"already exists", "duplicate", "email"}

func looksLikeDuplicate(err error) bool {
	var remote *billingdomain.RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	msg := strings.ToLower(remote.Message)
	for _, hint := range duplicateHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// recoverDuplicate looks for the customer Billing claims to have, first in
// the recent customer list and then by a details-by-email call.
func (s *Service) recoverDuplicate(ctx context.Context, email string) (billingdomain.Customer, error) {
	recent, err := s.billing.SearchRecentCustomers(ctx, s.recentScan)
	if err == nil {
		for _, c := range recent {
			if strings.EqualFold(strings.TrimSpace(c.Email), email) {
				return c, nil
			}
		}
	}

	found, derr := s.billing.GetCustomerDetailsByEmail(ctx, email)
	if derr == nil && found.ID != "" {
		return found, nil
	}
	if derr == nil {
		derr = billingdomain.ErrNotFound
	}
	return billingdomain.Customer{}, errors.Join(err, derr)
}
