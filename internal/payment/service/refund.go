package service

import (
	"context"
	"errors"
	"strings"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/events"
	"github.com/smallbiznis/orderbridge/internal/failure"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	"github.com/smallbiznis/orderbridge/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"go.uber.org/zap"
)

const stepRefundStatus = "mark_invoice_refunded"

// Cancel voids a gateway transaction that has not been settled. It never
// touches Billing.
func (s *Service) Cancel(ctx context.Context, transactionID, method string) (domain.CancelResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.CancelResult{}, domain.ErrMissingTransactionID
	}

	rec, found, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return domain.CancelResult{}, err
	}
	provider := s.providerFor("", method)
	if found {
		if rec.Settled() {
			return domain.CancelResult{}, domain.ErrAlreadySettled
		}
		if rec.Provider != "" {
			provider = rec.Provider
		}
	}

	var result domain.CancelResult
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		payment, err := s.gateway.Cancel(ctx, provider, transactionID)
		if err != nil {
			return err
		}
		result = domain.CancelResult{TransactionID: transactionID, Status: domain.StatusFromGateway(payment.Status)}
		return nil
	})
	if err != nil {
		s.log.Warn("payment cancel failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return domain.CancelResult{}, err
	}
	s.log.Info("payment cancelled", zap.String("transaction_id", transactionID), zap.String("status", string(result.Status)))
	return result, nil
}

// Refund returns money for a settled transaction. Partial refunds accumulate
// on the settlement record and may not exceed the settled amount. A zero
// amount refunds whatever remains; the refund that brings the remainder to
// zero marks the invoice Refunded.
func (s *Service) Refund(ctx context.Context, transactionID string, amount int64) (domain.RefundResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.RefundResult{}, domain.ErrMissingTransactionID
	}
	rec, found, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return domain.RefundResult{}, err
	}
	if !found || !rec.Settled() {
		return domain.RefundResult{}, domain.ErrNotSettled
	}
	if amount == 0 {
		amount = rec.Refundable()
	}
	if amount <= 0 || amount > rec.Refundable() {
		return domain.RefundResult{}, domain.ErrInvalidAmount
	}

	log := s.log.With(
		zap.String("transaction_id", transactionID),
		zap.String("invoice_id", rec.InvoiceID),
		zap.Int64("amount", amount),
	)

	// Reserve the amount before the gateway call so concurrent refunds
	// cannot overrun the settled amount.
	rec, err = s.store.AddRefund(ctx, transactionID, amount)
	switch {
	case errors.Is(err, settlementdomain.ErrRefundExceeded):
		return domain.RefundResult{}, domain.ErrInvalidAmount
	case errors.Is(err, settlementdomain.ErrNotSettled):
		return domain.RefundResult{}, domain.ErrNotSettled
	case err != nil:
		return domain.RefundResult{}, err
	}

	var status domain.Status
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		payment, err := s.gateway.Refund(ctx, rec.Provider, transactionID, amount)
		if err != nil {
			return err
		}
		status = domain.StatusFromGateway(payment.Status)
		return nil
	})
	if err != nil {
		log.Warn("gateway refund failed", zap.Error(err))
		if _, rerr := s.store.AddRefund(context.WithoutCancel(ctx), transactionID, -amount); rerr != nil {
			log.Error("refund reservation not returned", zap.Error(rerr))
		}
		return domain.RefundResult{}, err
	}
	full := rec.Refundable() == 0

	result := domain.RefundResult{
		TransactionID: transactionID,
		InvoiceID:     rec.InvoiceID,
		Amount:        amount,
		Status:        status,
	}
	ctx = context.WithoutCancel(ctx)

	if full && rec.InvoiceID != "" {
		if err := s.withTimeout(ctx, func(ctx context.Context) error {
			return s.billing.SetInvoiceStatus(ctx, rec.InvoiceID, billingdomain.InvoiceStatusRefunded)
		}); err != nil {
			log.Error("invoice status not set to refunded", zap.Error(err))
			result.Issues = append(result.Issues, failure.Warning(stepRefundStatus, "invoice_status_not_refunded", err.Error()))
		}
	}

	s.enqueueLedger(ctx, log, ledgerdomain.SyncRequest{
		SourceType:    ledgerdomain.SourceTypeRefund,
		TransactionID: transactionID,
		InvoiceID:     rec.InvoiceID,
		OrderID:       rec.OrderID,
		Amount:        amount,
		Currency:      rec.Currency,
		Method:        rec.Method,
		RefundedTotal: rec.Refunded(),
		OccurredAt:    s.clock.Now(),
	})

	if err := s.publish(ctx, log, events.EventPaymentRefunded, map[string]any{
		"transaction_id": transactionID,
		"invoice_id":     rec.InvoiceID,
		"amount":         amount,
		"currency":       rec.Currency,
		"refunded":       rec.Refunded(),
		"full":           full,
	}); err != nil {
		result.Issues = append(result.Issues, failure.IssueFrom(stepPublish, err))
	}

	log.Info("payment refunded", zap.String("status", string(status)))
	return result, nil
}
