// Package simulated is a deterministic in-process gateway used when no
// provider credentials are configured and in tests.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/smallbiznis/orderbridge/internal/gateway/domain"
)

// Provider is the registry name of the simulated gateway.
const Provider = "simulated"

type Factory struct {
	adapter *Adapter
}

// NewFactory returns a factory whose adapters share one transaction table.
func NewFactory() *Factory {
	return &Factory{adapter: New()}
}

// Adapter exposes the shared adapter so callers can pin statuses.
func (f *Factory) Adapter() *Adapter {
	return f.adapter
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(domain.AdapterConfig) (domain.Adapter, error) {
	return f.adapter, nil
}

// Adapter keeps transactions in memory. Created payments report PAID on the
// first status check unless a different status was set with Simulate.
type Adapter struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	forced   map[string]domain.Status
	calls    map[string]int
}

func New() *Adapter {
	return &Adapter{
		payments: map[string]domain.Payment{},
		forced:   map[string]domain.Status{},
		calls:    map[string]int{},
	}
}

func (a *Adapter) Provider() string {
	return Provider
}

// TransactionID derives the id a request would get, so repeated
// initialization of the same invoice and amount is stable.
func TransactionID(referenceID string, amount int64, currency string) string {
	sum := sha256.Sum256([]byte(referenceID + "|" + strconv.FormatInt(amount, 10) + "|" + strings.ToUpper(currency)))
	return "SIM-" + strings.ToUpper(hex.EncodeToString(sum[:8]))
}

func (a *Adapter) CreatePayment(_ context.Context, req domain.CreatePaymentRequest) (domain.Payment, error) {
	id := TransactionID(req.ReferenceID, req.Amount, req.Currency)
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	redirect := req.ReturnURL
	if u, err := url.Parse(req.ReturnURL); err == nil && req.ReturnURL != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
		redirect = u.String()
	}

	payment := domain.Payment{
		TransactionID: id,
		ReferenceID:   req.ReferenceID,
		Status:        domain.StatusPending,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		RedirectURL:   redirect,
		Metadata:      meta,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["create"]++
	if existing, ok := a.payments[id]; ok {
		return existing, nil
	}
	a.payments[id] = payment
	return payment, nil
}

func (a *Adapter) GetPaymentStatus(_ context.Context, transactionID string) (domain.Payment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["status"]++

	payment, ok := a.payments[transactionID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if status, ok := a.forced[transactionID]; ok {
		payment.Status = status
	} else if payment.Status == domain.StatusPending {
		payment.Status = domain.StatusPaid
	}
	a.payments[transactionID] = payment
	return payment, nil
}

func (a *Adapter) CancelPayment(_ context.Context, transactionID string) (domain.Payment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["cancel"]++

	payment, ok := a.payments[transactionID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	payment.Status = domain.StatusCancelled
	a.forced[transactionID] = domain.StatusCancelled
	a.payments[transactionID] = payment
	return payment, nil
}

func (a *Adapter) RefundPayment(_ context.Context, transactionID string, amount int64) (domain.Payment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["refund"]++

	payment, ok := a.payments[transactionID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	status := payment.Status
	if forced, ok := a.forced[transactionID]; ok {
		status = forced
	}
	if status != domain.StatusPaid && status != domain.StatusRefunded {
		return domain.Payment{}, domain.ErrNotRefundable
	}
	if amount <= 0 || amount > payment.Amount {
		return domain.Payment{}, domain.ErrNotRefundable
	}
	payment.Status = domain.StatusRefunded
	a.forced[transactionID] = domain.StatusRefunded
	a.payments[transactionID] = payment
	return payment, nil
}

func (a *Adapter) Verify(context.Context, []byte, http.Header, url.Values) error {
	return nil
}

func (a *Adapter) ParseNotification(_ context.Context, payload []byte, query url.Values) (domain.Notification, error) {
	n := domain.Notification{Provider: Provider, StatusHint: domain.StatusUnknown}
	if id := strings.TrimSpace(query.Get("id")); id != "" {
		n.TransactionID = id
		n.ReferenceID = strings.TrimSpace(query.Get("reference_id"))
		if hint := query.Get("status"); hint != "" {
			n.StatusHint = domain.NormalizeStatus(hint)
		}
		return n, nil
	}
	var body struct {
		ID          string `json:"id"`
		ReferenceID string `json:"reference_id"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || strings.TrimSpace(body.ID) == "" {
		return domain.Notification{}, domain.ErrInvalidPayload
	}
	n.TransactionID = strings.TrimSpace(body.ID)
	n.ReferenceID = body.ReferenceID
	if body.Status != "" {
		n.StatusHint = domain.NormalizeStatus(body.Status)
	}
	return n, nil
}

// Simulate pins the status reported for transactionID. Unknown ids are
// registered with the given amount so tests can reference arbitrary ids.
func (a *Adapter) Simulate(transactionID string, status domain.Status, amount int64, currency string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	payment, ok := a.payments[transactionID]
	if !ok {
		payment = domain.Payment{
			TransactionID: transactionID,
			Amount:        amount,
			Currency:      strings.ToUpper(currency),
			Metadata:      map[string]string{},
		}
	}
	payment.Status = status
	a.payments[transactionID] = payment
	a.forced[transactionID] = status
}

// Calls reports how often op ("create", "status", "cancel", "refund") ran.
func (a *Adapter) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}
