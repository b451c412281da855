package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBilling struct {
	mu       sync.Mutex
	handlers map[string]func(form url.Values) (int, any)
	calls    []url.Values
}

func (f *fakeBilling) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, r.PostForm)
	handler, ok := f.handlers[r.PostForm.Get("action")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"result": "error", "message": "unknown action"})
		return
	}
	status, body := handler(r.PostForm)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, fake *fakeBilling) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(config.BillingConfig{URL: srv.URL, Identifier: "id", Secret: "secret"}, srv.Client(), zaptest.NewLogger(t))
}

func TestFindCustomerByEmailMatchesCaseInsensitively(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"GetClients": func(form url.Values) (int, any) {
			return http.StatusOK, map[string]any{
				"result":       "success",
				"totalresults": 2,
				"clients": map[string]any{"client": []map[string]any{
					{"id": 7, "firstname": "Eva", "lastname": "Other", "email": "eva.x@y.cz"},
					{"id": "8", "firstname": "Jan", "lastname": "Novak", "email": "X@Y.cz"},
				}},
			}
		},
	}}
	c := newTestClient(t, fake)

	customer, err := c.FindCustomerByEmail(context.Background(), "x@y.cz")
	require.NoError(t, err)
	assert.Equal(t, "8", customer.ID)
	assert.Equal(t, "Novak", customer.LastName)
	assert.Equal(t, "secret", fake.calls[0].Get("secret"))
	assert.Equal(t, "json", fake.calls[0].Get("responsetype"))

	_, err = c.FindCustomerByEmail(context.Background(), "nobody@y.cz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateCustomerReturnsStoredRecord(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"AddClient": func(form url.Values) (int, any) {
			return http.StatusOK, map[string]any{"result": "success", "clientid": 42}
		},
		"GetClientsDetails": func(form url.Values) (int, any) {
			if form.Get("clientid") != "42" {
				return http.StatusOK, map[string]any{"result": "error", "message": "Client Not Found"}
			}
			return http.StatusOK, map[string]any{
				"result": "success",
				"client": map[string]any{"id": 42, "firstname": "Jan", "lastname": "Novak", "email": "x+1@y.cz"},
			}
		},
	}}
	c := newTestClient(t, fake)

	customer, err := c.CreateCustomer(context.Background(), domain.NewCustomer{FirstName: "Jan", LastName: "Novak", Email: "x@y.cz"})
	require.NoError(t, err)
	assert.Equal(t, "42", customer.ID)
	assert.Equal(t, "x+1@y.cz", customer.Email)
}

func TestGetClientDetailsNotFound(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"GetClientsDetails": func(url.Values) (int, any) {
			return http.StatusOK, map[string]any{"result": "error", "message": "Client Not Found"}
		},
	}}
	c := newTestClient(t, fake)

	_, err := c.GetCustomerDetailsByEmail(context.Background(), "x@y.cz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetInvoiceParsesAmountsAndPayments(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"GetInvoice": func(form url.Values) (int, any) {
			return http.StatusOK, map[string]any{
				"result":       "success",
				"invoiceid":    form.Get("invoiceid"),
				"userid":       "8",
				"status":       "Unpaid",
				"total":        "598.50",
				"currencycode": "czk",
				"transactions": map[string]any{"transaction": []map[string]any{
					{"transid": "TX1", "amountin": "100.5", "gateway": "gopay", "date": "2025-01-02 10:00:00"},
				}},
			}
		},
	}}
	c := newTestClient(t, fake)

	invoice, err := c.GetInvoice(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", invoice.ID)
	assert.Equal(t, int64(59850), invoice.Total)
	assert.Equal(t, "CZK", invoice.Currency)
	assert.Equal(t, domain.InvoiceStatusUnpaid, invoice.Status)
	require.Len(t, invoice.Payments, 1)
	assert.Equal(t, int64(10050), invoice.Payments[0].Amount)
	assert.True(t, invoice.HasTransaction("TX1"))
	assert.False(t, invoice.HasTransaction("TX2"))
}

func TestAddInvoicePaymentSendsDecimalAmount(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"AddInvoicePayment": func(url.Values) (int, any) {
			return http.StatusOK, map[string]any{"result": "success"}
		},
	}}
	c := newTestClient(t, fake)

	err := c.AddInvoicePayment(context.Background(), domain.PaymentInput{
		InvoiceID: "42", TransactionID: "TX1", Amount: 29900, Method: "gopay",
	})
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "299.00", fake.calls[0].Get("amount"))
	assert.Equal(t, "TX1", fake.calls[0].Get("transid"))
}

func TestRemoteErrorsAreClassified(t *testing.T) {
	fake := &fakeBilling{handlers: map[string]func(url.Values) (int, any){
		"AddClient": func(url.Values) (int, any) {
			return http.StatusOK, map[string]any{"result": "error", "message": "A user already exists with that email address"}
		},
		"ActivateOrder": func(url.Values) (int, any) {
			return http.StatusServiceUnavailable, map[string]any{"result": "error", "message": "maintenance"}
		},
	}}
	c := newTestClient(t, fake)

	_, err := c.CreateCustomer(context.Background(), domain.NewCustomer{Email: "x@y.cz"})
	require.Error(t, err)
	var remote *domain.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, "already exists")
	assert.Equal(t, failure.KindUpstream, failure.KindOf(err))
	assert.False(t, failure.IsTransient(err))

	err = c.ActivateOrder(context.Background(), "5")
	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))
}

func TestUnconfiguredClient(t *testing.T) {
	c := New(config.BillingConfig{}, nil, nil)
	err := c.TriggerProvisioning(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestAmountFormatting(t *testing.T) {
	assert.Equal(t, "299.00", formatAmount(29900))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "-1.20", formatAmount(-120))

	for raw, want := range map[string]int64{"299": 29900, "299.5": 29950, "0.05": 5, "-1.20": -120, "": 0, "12.345": 1234} {
		got, err := parseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseAmount("abc")
	assert.Error(t, err)
}
