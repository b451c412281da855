package service

import (
	"context"
	"errors"
	"strings"

	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/events"
	"github.com/smallbiznis/orderbridge/internal/failure"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	"github.com/smallbiznis/orderbridge/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	stepLookup   = "lookup_settlement"
	stepVerify   = "verify_status"
	stepClaim    = "claim_settlement"
	stepAmount   = "resolve_amount"
	stepMarkPaid = "mark_invoice_paid"
	stepFinalize = "finalize_settlement"
	stepPublish  = "publish_event"
)

// Reconcile settles trigger's transaction when the gateway confirms it paid.
// A settled transaction returns its stored record without touching Billing;
// a transaction held by another in-flight run returns StatusProcessing.
func (s *Service) Reconcile(ctx context.Context, trigger domain.Trigger) (domain.Outcome, error) {
	trigger = normalizeTrigger(trigger)
	if trigger.TransactionID == "" {
		s.metrics.RecordReconciliation(ctx, string(trigger.Source), "rejected")
		return domain.Outcome{}, domain.ErrMissingTransactionID
	}

	ctx, span := s.tracer.Start(ctx, "payment.reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.transaction_id", trigger.TransactionID),
		attribute.String("payment.source", string(trigger.Source)),
	)

	log := s.log.With(
		zap.String("transaction_id", trigger.TransactionID),
		zap.String("source", string(trigger.Source)),
	)

	out, err := s.reconcile(ctx, log, trigger)
	if err != nil {
		span.SetStatus(codes.Error, failure.CodeOf(err))
		s.metrics.RecordReconciliation(ctx, string(trigger.Source), "error")
		log.Warn("reconcile failed", zap.Error(err))
		return out, err
	}

	outcome := string(out.Status)
	if out.Deduplicated {
		outcome = "deduplicated"
	}
	s.metrics.RecordReconciliation(ctx, string(trigger.Source), outcome)
	span.SetAttributes(attribute.String("payment.status", string(out.Status)))
	return out, nil
}

func normalizeTrigger(t domain.Trigger) domain.Trigger {
	t.TransactionID = strings.TrimSpace(t.TransactionID)
	t.ReferenceID = strings.TrimSpace(t.ReferenceID)
	t.OrderID = strings.TrimSpace(t.OrderID)
	t.Method = strings.ToLower(strings.TrimSpace(t.Method))
	t.Provider = strings.ToLower(strings.TrimSpace(t.Provider))
	if t.Source == "" {
		t.Source = domain.SourceAPI
	}
	return t
}

func settledOutcome(rec settlementdomain.Record, source domain.Source) domain.Outcome {
	return domain.Outcome{
		TransactionID: rec.TransactionID,
		InvoiceID:     rec.InvoiceID,
		OrderID:       rec.OrderID,
		Status:        domain.StatusPaid,
		State:         domain.StateCaptured,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Source:        source,
		Deduplicated:  true,
		Record:        &rec,
	}
}

func (s *Service) reconcile(ctx context.Context, log *zap.Logger, trigger domain.Trigger) (domain.Outcome, error) {
	out := domain.Outcome{
		TransactionID: trigger.TransactionID,
		InvoiceID:     trigger.ReferenceID,
		OrderID:       trigger.OrderID,
		Status:        domain.StatusUnknown,
		State:         domain.StateGatewayRedirectIssued,
		Source:        trigger.Source,
	}

	var (
		existing settlementdomain.Record
		found    bool
		err      error
	)
	s.timed(ctx, stepLookup, func() {
		existing, found, err = s.store.Get(ctx, trigger.TransactionID)
	})
	if err != nil {
		return out, err
	}
	if found && existing.Settled() {
		log.Debug("transaction already settled")
		return settledOutcome(existing, trigger.Source), nil
	}

	provider := s.providerFor(trigger.Provider, trigger.Method)
	var payment gatewaydomain.Payment
	s.timed(ctx, stepVerify, func() {
		err = s.withTimeout(ctx, func(ctx context.Context) error {
			payment, err = s.gateway.PaymentStatus(ctx, provider, trigger.TransactionID)
			return err
		})
	})
	if err != nil {
		log.Warn("gateway status unavailable", zap.Error(err))
		out.Issues = append(out.Issues, failure.IssueFrom(stepVerify, err))
		return out, nil
	}
	out.State = domain.StateStatusVerified
	out.Status = domain.StatusFromGateway(payment.Status)
	if trigger.StatusHint != "" && trigger.StatusHint != payment.Status {
		log.Info("status hint disagrees with gateway",
			zap.String("hint", string(trigger.StatusHint)),
			zap.String("gateway", string(payment.Status)),
		)
	}

	if ref := strings.TrimSpace(payment.ReferenceID); ref != "" {
		if out.InvoiceID != "" && out.InvoiceID != ref {
			log.Warn("trigger reference does not match gateway reference",
				zap.String("trigger_reference", out.InvoiceID),
				zap.String("gateway_reference", ref),
			)
			out.Status = domain.StatusUnknown
			out.Issues = append(out.Issues, failure.Warning(stepVerify, "reference_mismatch",
				"trigger reference "+out.InvoiceID+" does not match gateway reference "+ref))
			return out, nil
		}
		out.InvoiceID = ref
	}
	if out.OrderID == "" {
		out.OrderID = strings.TrimSpace(payment.Metadata["order_id"])
	}
	out.Currency = strings.ToUpper(strings.TrimSpace(payment.Currency))

	if out.Status != domain.StatusPaid {
		return out, nil
	}
	if out.InvoiceID == "" {
		return out, domain.ErrMissingInvoice
	}

	return s.settle(ctx, log.With(zap.String("invoice_id", out.InvoiceID), zap.String("order_id", out.OrderID)), trigger, payment, provider, out)
}

// settle applies a verified payment to Billing under a settlement claim.
func (s *Service) settle(
	ctx context.Context,
	log *zap.Logger,
	trigger domain.Trigger,
	payment gatewaydomain.Payment,
	provider string,
	out domain.Outcome,
) (domain.Outcome, error) {
	if payment.Metadata != nil && trigger.Method == "" {
		trigger.Method = strings.ToLower(strings.TrimSpace(payment.Metadata["method"]))
	}

	var (
		claim settlementdomain.Claim
		err   error
	)
	s.timed(ctx, stepClaim, func() {
		claim, err = s.store.Claim(ctx, settlementdomain.Record{
			TransactionID: trigger.TransactionID,
			InvoiceID:     out.InvoiceID,
			OrderID:       out.OrderID,
			Currency:      out.Currency,
			Method:        trigger.Method,
			Provider:      provider,
			Source:        string(trigger.Source),
		}, s.claimTTL)
	})
	if err != nil {
		return out, err
	}
	s.metrics.RecordSettlementClaim(ctx, string(claim.Status))

	switch claim.Status {
	case settlementdomain.ClaimSettled:
		return settledOutcome(claim.Record, trigger.Source), nil
	case settlementdomain.ClaimBusy:
		log.Info("settlement in progress elsewhere")
		out.Status = domain.StatusProcessing
		return out, nil
	}

	rec := claim.Record
	// Billing mutations below must outlive a cancelled request once started.
	ctx = context.WithoutCancel(ctx)
	release := func() {
		if err := s.store.Release(ctx, rec.TransactionID, rec.ClaimToken); err != nil {
			log.Error("settlement claim release failed", zap.Error(err))
		}
	}

	var invoice billingdomain.Invoice
	invoiceKnown := false
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		invoice, err = s.billing.GetInvoice(ctx, out.InvoiceID)
		return err
	}); err != nil {
		log.Warn("invoice read failed", zap.Error(err))
	} else {
		invoiceKnown = true
	}

	amount, err := resolveAmount(payment, trigger, invoice, invoiceKnown)
	if err != nil {
		release()
		out.Issues = append(out.Issues, failure.IssueFrom(stepAmount, err))
		return out, err
	}
	out.Amount = amount
	if out.Currency == "" && invoiceKnown {
		out.Currency = strings.ToUpper(invoice.Currency)
	}
	out.Steps = map[domain.Step]domain.StepStatus{}

	s.timed(ctx, string(domain.StepAuthorize), func() {
		s.authorize(ctx, log, trigger, &out)
	})

	var captureErr error
	s.timed(ctx, string(domain.StepCapture), func() {
		captureErr = s.capture(ctx, log, trigger, provider, invoice, invoiceKnown, &out)
	})
	if captureErr != nil {
		release()
		log.Error("capture failed, settlement released", zap.Error(captureErr))
		return out, captureErr
	}

	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.SetInvoiceStatus(ctx, out.InvoiceID, billingdomain.InvoiceStatusPaid)
	}); err != nil {
		log.Error("invoice status not set to paid after capture", zap.Error(err))
		out.Issues = append(out.Issues, failure.Warning(stepMarkPaid, "invoice_status_not_paid", err.Error()))
	}

	rec.InvoiceID = out.InvoiceID
	rec.OrderID = out.OrderID
	rec.Amount = out.Amount
	rec.Currency = out.Currency
	rec.Method = trigger.Method
	rec.Provider = provider
	rec.Source = string(trigger.Source)
	finalized, err := s.store.Finalize(ctx, rec)
	if err != nil {
		log.Error("settlement finalize failed", zap.Error(err))
		out.Issues = append(out.Issues, failure.IssueFrom(stepFinalize, err))
	} else {
		out.Record = &finalized
	}

	s.timed(ctx, string(domain.StepProvision), func() {
		s.provision(ctx, log, trigger, &out)
	})
	s.mirror(ctx, log, ledgerdomain.SourceTypePayment, out, trigger.Method)
	if err := s.publish(ctx, log, events.EventPaymentSettled, map[string]any{
		"transaction_id": out.TransactionID,
		"invoice_id":     out.InvoiceID,
		"order_id":       out.OrderID,
		"amount":         out.Amount,
		"currency":       out.Currency,
		"provider":       provider,
		"source":         string(trigger.Source),
	}); err != nil {
		out.Issues = append(out.Issues, failure.IssueFrom(stepPublish, err))
	}

	log.Info("payment settled",
		zap.Int64("amount", out.Amount),
		zap.String("currency", out.Currency),
		zap.Int("issues", len(out.Issues)),
	)
	return out, nil
}

// resolveAmount prefers the gateway amount, then the trigger hint, then the
// billed invoice total.
func resolveAmount(payment gatewaydomain.Payment, trigger domain.Trigger, invoice billingdomain.Invoice, invoiceKnown bool) (int64, error) {
	switch {
	case payment.Amount > 0:
		return payment.Amount, nil
	case trigger.AmountHint > 0:
		return trigger.AmountHint, nil
	case invoiceKnown && invoice.Total > 0:
		return invoice.Total, nil
	default:
		return 0, domain.ErrAmountUnresolved
	}
}

// authorize activates the order, falling back to the standard accept call.
// Failure never blocks settlement.
func (s *Service) authorize(ctx context.Context, log *zap.Logger, trigger domain.Trigger, out *domain.Outcome) {
	if trigger.SkipAuthorize || out.OrderID == "" {
		out.Steps[domain.StepAuthorize] = domain.StepSkipped
		return
	}
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.ActivateOrder(ctx, out.OrderID)
	})
	if err == nil {
		out.Steps[domain.StepAuthorize] = domain.StepCompleted
		out.State = domain.StateAuthorized
		return
	}
	log.Warn("order activation failed, trying accept", zap.Error(err))
	fallbackErr := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.AcceptOrder(ctx, out.OrderID)
	})
	if fallbackErr == nil {
		out.Steps[domain.StepAuthorize] = domain.StepCompleted
		out.State = domain.StateAuthorized
		return
	}
	log.Warn("order authorization failed, settling anyway", zap.Error(fallbackErr))
	out.Steps[domain.StepAuthorize] = domain.StepFailed
	out.Issues = append(out.Issues, failure.IssueFrom(string(domain.StepAuthorize), errors.Join(err, fallbackErr)))
}

// capture records the payment on the invoice. An invoice that already lists
// the transaction counts as captured.
func (s *Service) capture(
	ctx context.Context,
	log *zap.Logger,
	trigger domain.Trigger,
	provider string,
	invoice billingdomain.Invoice,
	invoiceKnown bool,
	out *domain.Outcome,
) error {
	if invoiceKnown && invoice.HasTransaction(out.TransactionID) {
		log.Info("invoice already lists transaction")
		out.Steps[domain.StepCapture] = domain.StepSkipped
		out.State = domain.StateCaptured
		return nil
	}

	input := billingdomain.PaymentInput{
		InvoiceID:     out.InvoiceID,
		TransactionID: out.TransactionID,
		Amount:        out.Amount,
		Currency:      out.Currency,
		Method:        s.billingMethod(provider, trigger.Method),
		Date:          s.clock.Now(),
	}
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.AddInvoicePayment(ctx, input)
	})
	if err == nil {
		out.Steps[domain.StepCapture] = domain.StepCompleted
		out.State = domain.StateCaptured
		return nil
	}
	log.Warn("invoice payment add failed, trying capture", zap.Error(err))
	fallbackErr := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.CapturePayment(ctx, input)
	})
	if fallbackErr == nil {
		out.Steps[domain.StepCapture] = domain.StepCompleted
		out.State = domain.StateCaptured
		return nil
	}

	// A timed out call may still have been applied.
	var current billingdomain.Invoice
	if readErr := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		current, err = s.billing.GetInvoice(ctx, out.InvoiceID)
		return err
	}); readErr == nil && current.HasTransaction(out.TransactionID) {
		out.Steps[domain.StepCapture] = domain.StepCompleted
		out.State = domain.StateCaptured
		return nil
	}

	out.Steps[domain.StepCapture] = domain.StepFailed
	out.Issues = append(out.Issues, failure.IssueFrom(string(domain.StepCapture), errors.Join(err, fallbackErr)))
	return &failure.Error{Kind: failure.KindUpstream, Code: domain.ErrCaptureFailed.Code, Err: errors.Join(domain.ErrCaptureFailed, err, fallbackErr)}
}

func (s *Service) provision(ctx context.Context, log *zap.Logger, trigger domain.Trigger, out *domain.Outcome) {
	if trigger.SkipProvision || out.OrderID == "" {
		out.Steps[domain.StepProvision] = domain.StepSkipped
		return
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.billing.TriggerProvisioning(ctx, out.OrderID)
	}); err != nil {
		log.Warn("provisioning trigger failed", zap.Error(err))
		out.Steps[domain.StepProvision] = domain.StepFailed
		out.Issues = append(out.Issues, failure.Warning(string(domain.StepProvision), "provisioning_failed", err.Error()))
		return
	}
	out.Steps[domain.StepProvision] = domain.StepCompleted
	out.State = domain.StateProvisionTriggered
}

func (s *Service) mirror(ctx context.Context, log *zap.Logger, sourceType ledgerdomain.SourceType, out domain.Outcome, method string) {
	s.enqueueLedger(ctx, log, ledgerdomain.SyncRequest{
		SourceType:    sourceType,
		TransactionID: out.TransactionID,
		InvoiceID:     out.InvoiceID,
		OrderID:       out.OrderID,
		Amount:        out.Amount,
		Currency:      out.Currency,
		Method:        method,
		OccurredAt:    s.clock.Now(),
	})
}

func (s *Service) enqueueLedger(ctx context.Context, log *zap.Logger, req ledgerdomain.SyncRequest) {
	if s.ledger == nil {
		return
	}
	if !s.ledger.Enqueue(ctx, req) {
		log.Warn("ledger mirror not queued", zap.String("source_type", string(req.SourceType)))
	}
}
