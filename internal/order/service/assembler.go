package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	billingdomain "github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	customerdomain "github.com/smallbiznis/orderbridge/internal/customer/domain"
	"github.com/smallbiznis/orderbridge/internal/events"
	"github.com/smallbiznis/orderbridge/internal/failure"
	obsmetrics "github.com/smallbiznis/orderbridge/internal/observability/metrics"
	"github.com/smallbiznis/orderbridge/internal/order/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sagaName = "order"

	stepAffiliate  = "resolve_affiliate"
	stepCustomer   = "resolve_customer"
	stepMapItems   = "map_items"
	stepDraft      = "create_draft"
	stepAttach     = "attach_items"
	stepConvert    = "convert_draft"
	stepInvoice    = "resolve_invoice"
	stepResetPaid  = "reset_invoice_status"
	stepAssignRef  = "assign_affiliate"
	stepPublish    = "publish_event"
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Billing   billingdomain.Client
	Resolver  customerdomain.Resolver
	Catalog   *config.CatalogHolder
	Clock     clock.Clock
	Publisher events.Publisher    `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Service runs the draft order saga. Each Run is independent; a failed run
// is never retried here, so resubmitting a cart creates a fresh order.
type Service struct {
	log       *zap.Logger
	billing   billingdomain.Client
	resolver  customerdomain.Resolver
	catalog   *config.CatalogHolder
	clock     clock.Clock
	publisher events.Publisher
	metrics   *obsmetrics.Metrics
	tracer    trace.Tracer
}

func NewService(p Params) domain.Assembler {
	return New(p)
}

func New(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewFallback(p.Log)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:       p.Log.Named("order.assembler"),
		billing:   p.Billing,
		resolver:  p.Resolver,
		catalog:   p.Catalog,
		clock:     clk,
		publisher: publisher,
		metrics:   p.Metrics,
		tracer:    otel.Tracer("orderbridge/order"),
	}
}

// plannedItem is a cart row mapped onto Billing identifiers.
type plannedItem struct {
	item     billingdomain.DraftItem
	quantity int
}

type run struct {
	result domain.Result
	log    *zap.Logger
}

func (r *run) issue(issue failure.Issue) {
	r.result.Issues = append(r.result.Issues, issue)
}

func (r *run) fail(step string, err error) error {
	reached := r.result.State
	r.result.State = domain.StateFailed
	return &domain.StepError{Step: step, Reached: reached, Err: err}
}

func (s *Service) Run(ctx context.Context, cart domain.Cart) (domain.Result, error) {
	r := &run{result: domain.Result{
		RunID: ulid.Make().String(),
		State: domain.StateStart,
	}}
	r.log = s.log.With(zap.String("run_id", r.result.RunID))

	ctx, span := s.tracer.Start(ctx, "order.run")
	defer span.End()
	span.SetAttributes(attribute.String("order.run_id", r.result.RunID))

	err := s.run(ctx, r, cart)
	if err != nil {
		span.SetStatus(codes.Error, failure.CodeOf(err))
		s.metrics.RecordOrderAssembled(ctx, outcomeFailed)
		r.log.Warn("order assembly failed",
			zap.String("state", string(r.result.State)),
			zap.Int("issues", len(r.result.Issues)),
			zap.Error(err),
		)
		return r.result, err
	}

	s.metrics.RecordOrderAssembled(ctx, outcomeSuccess)
	span.SetAttributes(
		attribute.String("order.id", r.result.OrderID),
		attribute.String("invoice.id", r.result.InvoiceID),
	)
	r.log.Info("order assembled",
		zap.String("order_id", r.result.OrderID),
		zap.String("invoice_id", r.result.InvoiceID),
		zap.Int("attached_units", r.result.AttachedUnits),
		zap.Int("issues", len(r.result.Issues)),
	)
	return r.result, nil
}

func (s *Service) run(ctx context.Context, r *run, cart domain.Cart) error {
	if len(cart.Items) == 0 {
		return r.fail(stepMapItems, domain.ErrEmptyCart)
	}
	currency := strings.ToUpper(strings.TrimSpace(cart.Currency))

	if ref := strings.TrimSpace(cart.AffiliateRef); ref != "" {
		s.timed(ctx, stepAffiliate, func() {
			affiliate, err := s.billing.GetAffiliate(ctx, ref)
			if err != nil {
				r.log.Warn("affiliate lookup failed", zap.String("affiliate_ref", ref), zap.Error(err))
				r.issue(failure.Warning(stepAffiliate, "invalid_affiliate", "affiliate "+ref+" could not be resolved: "+err.Error()))
				return
			}
			r.result.Affiliate = &domain.Affiliate{ID: affiliate.ID, Name: affiliate.Name}
		})
	}

	var (
		customer       customerdomain.Customer
		customerIssues []failure.Issue
		err            error
	)
	s.timed(ctx, stepCustomer, func() {
		customer, customerIssues, err = s.resolver.Resolve(ctx, cart.Customer)
	})
	r.result.Issues = append(r.result.Issues, customerIssues...)
	if err != nil {
		return r.fail(stepCustomer, err)
	}
	r.result.Customer = customer
	r.result.State = domain.StateClientResolved
	r.log = r.log.With(zap.String("customer_id", customer.ID))

	planned := s.plan(r, cart.Items, currency)
	if len(planned) == 0 {
		return r.fail(stepMapItems, domain.ErrNoValidItems)
	}

	var draft billingdomain.DraftOrder
	s.timed(ctx, stepDraft, func() {
		draft, err = s.billing.CreateDraftOrder(ctx, customer.ID, currency)
	})
	if err != nil {
		return r.fail(stepDraft, err)
	}
	r.result.State = domain.StateDraftCreated

	s.timed(ctx, stepAttach, func() {
		r.result.AttachedUnits = s.attach(ctx, r, draft.ID, planned)
	})
	if r.result.AttachedUnits == 0 {
		return r.fail(stepAttach, domain.ErrNoValidItems)
	}
	r.result.State = domain.StateItemsAttached

	var converted billingdomain.ConvertResult
	s.timed(ctx, stepConvert, func() {
		converted, err = s.billing.ConvertDraftOrder(ctx, draft.ID)
	})
	if err != nil {
		return r.fail(stepConvert, err)
	}
	r.result.OrderID = converted.OrderID

	invoiceID := strings.TrimSpace(converted.InvoiceID)
	if invoiceID == "" {
		s.timed(ctx, stepInvoice, func() {
			invoiceID, err = s.invoiceFromOrder(ctx, converted.OrderID)
		})
		if err != nil {
			return r.fail(stepInvoice, err)
		}
	}
	r.result.InvoiceID = invoiceID
	r.result.State = domain.StateConverted
	r.log = r.log.With(zap.String("order_id", r.result.OrderID), zap.String("invoice_id", invoiceID))

	s.timed(ctx, stepResetPaid, func() {
		s.resetAutoPaid(ctx, r, invoiceID, converted.InvoiceStatus)
	})

	if r.result.Affiliate != nil {
		s.timed(ctx, stepAssignRef, func() {
			if err := s.billing.AssignOrderAffiliate(ctx, r.result.OrderID, r.result.Affiliate.ID); err != nil {
				r.log.Warn("affiliate assignment failed", zap.String("affiliate_id", r.result.Affiliate.ID), zap.Error(err))
				r.issue(failure.IssueFrom(stepAssignRef, err))
				return
			}
			r.result.State = domain.StateReferrerAssigned
		})
	}

	s.publish(ctx, r, currency)
	r.result.State = domain.StateDone
	return nil
}

// plan maps cart rows to Billing products and cycle codes. Rows that cannot
// be mapped are dropped with an issue.
func (s *Service) plan(r *run, items []domain.LineItem, currency string) []plannedItem {
	catalog := s.catalog.Get()
	planned := make([]plannedItem, 0, len(items))
	for _, item := range items {
		ref := strings.TrimSpace(item.ProductRef)
		if item.Quantity <= 0 {
			r.issue(failure.Issue{Step: stepMapItems, Kind: failure.KindValidation, Code: "invalid_quantity", Message: "item " + ref + " has no positive quantity"})
			continue
		}
		productID, ok := catalog.ProductID(ref)
		if !ok {
			r.log.Warn("unmapped product skipped", zap.String("product_ref", ref))
			r.issue(failure.Issue{Step: stepMapItems, Kind: failure.KindValidation, Code: "unknown_product", Message: "product " + ref + " is not mapped to a billing product"})
			continue
		}
		cycle, ok := domain.CycleCode(item.BillingCycle)
		if !ok {
			r.issue(failure.Issue{Step: stepMapItems, Kind: failure.KindValidation, Code: "unknown_billing_cycle", Message: "billing cycle " + item.BillingCycle + " is not supported"})
			continue
		}
		planned = append(planned, plannedItem{
			item: billingdomain.DraftItem{
				ProductID:   productID,
				CycleCode:   cycle,
				UnitPrice:   item.UnitPrice,
				Currency:    currency,
				Description: item.Description,
			},
			quantity: item.Quantity,
		})
	}
	return planned
}

// attach submits each planned row once per unit and returns the number of
// units Billing accepted.
func (s *Service) attach(ctx context.Context, r *run, draftID string, planned []plannedItem) int {
	attached := 0
	for _, p := range planned {
		for unit := 0; unit < p.quantity; unit++ {
			if err := s.billing.AttachDraftItem(ctx, draftID, p.item); err != nil {
				r.log.Warn("draft item attach failed",
					zap.String("draft_id", draftID),
					zap.String("product_id", p.item.ProductID),
					zap.Int("unit", unit+1),
					zap.Error(err),
				)
				r.issue(failure.IssueFrom(stepAttach, err))
				continue
			}
			attached++
		}
	}
	return attached
}

func (s *Service) invoiceFromOrder(ctx context.Context, orderID string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", domain.ErrMissingInvoice
	}
	order, err := s.billing.GetOrderDetails(ctx, orderID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(order.InvoiceID) == "" {
		return "", domain.ErrMissingInvoice
	}
	return strings.TrimSpace(order.InvoiceID), nil
}

// resetAutoPaid returns an invoice that conversion marked Paid back to Unpaid
// so that only the payment saga settles it.
func (s *Service) resetAutoPaid(ctx context.Context, r *run, invoiceID string, status billingdomain.InvoiceStatus) {
	if status == "" {
		invoice, err := s.billing.GetInvoice(ctx, invoiceID)
		if err != nil {
			r.log.Debug("invoice status unknown after conversion", zap.Error(err))
			return
		}
		status = invoice.Status
	}
	if status != billingdomain.InvoiceStatusPaid {
		return
	}

	r.log.Warn("converted invoice is already paid, resetting to unpaid")
	if err := s.billing.SetInvoiceStatus(ctx, invoiceID, billingdomain.InvoiceStatusUnpaid); err != nil {
		r.log.Error("invoice status reset failed", zap.Error(err))
		r.issue(failure.Warning(stepResetPaid, "invoice_auto_paid", "invoice "+invoiceID+" was marked paid on conversion and could not be reset: "+err.Error()))
		return
	}
	r.issue(failure.Warning(stepResetPaid, "invoice_auto_paid_reset", "invoice "+invoiceID+" was marked paid on conversion and reset to unpaid"))
}

func (s *Service) publish(ctx context.Context, r *run, currency string) {
	payload := map[string]any{
		"run_id":         r.result.RunID,
		"order_id":       r.result.OrderID,
		"invoice_id":     r.result.InvoiceID,
		"customer_id":    r.result.Customer.ID,
		"attached_units": r.result.AttachedUnits,
		"currency":       currency,
	}
	if r.result.Affiliate != nil {
		payload["affiliate_id"] = r.result.Affiliate.ID
	}
	event := events.New(events.EventOrderCreated, s.clock.Now(), payload).Correlate(ctx)
	if err := s.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("order event publish failed", zap.Error(err))
		r.issue(failure.IssueFrom(stepPublish, err))
	}
}

func (s *Service) timed(ctx context.Context, step string, fn func()) {
	start := time.Now()
	fn()
	s.metrics.RecordStep(ctx, sagaName, step, time.Since(start))
}
