package gopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGoPay struct {
	tokenCalls atomic.Int32

	mu         sync.Mutex
	lastCreate gopayPaymentRequest
	state      string
}

func (f *fakeGoPay) setState(state string) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *fakeGoPay) currentState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeGoPay) created() gopayPaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreate
}

func (f *fakeGoPay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "csecret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 1800})
	})
	mux.HandleFunc("/payments/payment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body gopayPaymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastCreate = body
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           3000006529,
			"order_number": body.OrderNumber,
			"state":        "CREATED",
			"amount":       body.Amount,
			"currency":     body.Currency,
			"gw_url":       "https://gate.example/gw/abc",
		})
	})
	mux.HandleFunc("/payments/payment/3000006529", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                3000006529,
			"order_number":      "INV-42",
			"state":             f.currentState(),
			"amount":            59800,
			"currency":          "CZK",
			"additional_params": []map[string]string{{"name": "order_id", "value": "17"}},
		})
	})
	mux.HandleFunc("/payments/payment/3000006529/refund", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "59800", r.PostForm.Get("amount"))
		f.setState("REFUNDED")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 3000006529, "result": "FINISHED"})
	})
	mux.HandleFunc("/payments/payment/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return mux
}

func newTestAdapter(t *testing.T, fake *fakeGoPay, extra map[string]any) domain.Adapter {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := map[string]any{
		"client_id":     "cid",
		"client_secret": "csecret",
		"goid":          "8123456789",
		"base_url":      srv.URL,
	}
	for k, v := range extra {
		cfg[k] = v
	}
	adapter, err := NewFactory(srv.Client()).NewAdapter(domain.AdapterConfig{Config: cfg})
	require.NoError(t, err)
	return adapter
}

func TestFactoryRejectsIncompleteConfig(t *testing.T) {
	_, err := NewFactory(nil).NewAdapter(domain.AdapterConfig{Config: map[string]any{"client_id": "x"}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewFactory(nil).NewAdapter(domain.AdapterConfig{Config: map[string]any{
		"client_id": "x", "client_secret": "y", "goid": "not-a-number",
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreatePaymentAndCachedToken(t *testing.T) {
	fake := &fakeGoPay{state: "CREATED"}
	adapter := newTestAdapter(t, fake, nil)

	payment, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		Amount:      59800,
		Currency:    "czk",
		ReferenceID: "INV-42",
		Email:       "a@b.cz",
		Instrument:  "PAYMENT_CARD",
		ReturnURL:   "https://shop.example/payments/return",
		NotifyURL:   "https://shop.example/webhooks/gopay",
		Metadata:    map[string]string{"order_id": "17", "invoice_id": "INV-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "3000006529", payment.TransactionID)
	assert.Equal(t, "https://gate.example/gw/abc", payment.RedirectURL)
	assert.Equal(t, domain.StatusPending, payment.Status)

	sent := fake.created()
	assert.Equal(t, int64(8123456789), sent.Target.GoID)
	assert.Equal(t, "CZK", sent.Currency)
	assert.Equal(t, []string{"PAYMENT_CARD"}, sent.Payer.AllowedInstruments)
	require.Len(t, sent.AdditionalParams, 2)
	assert.Equal(t, "invoice_id", sent.AdditionalParams[0].Name)

	fake.setState("PAID")
	status, err := adapter.GetPaymentStatus(context.Background(), "3000006529")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, status.Status)
	assert.Equal(t, int64(59800), status.Amount)
	assert.Equal(t, "17", status.Metadata["order_id"])

	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestRefundAndNotFound(t *testing.T) {
	fake := &fakeGoPay{state: "PAID"}
	adapter := newTestAdapter(t, fake, nil)

	refunded, err := adapter.RefundPayment(context.Background(), "3000006529", 59800)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)

	_, err = adapter.GetPaymentStatus(context.Background(), "404")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestVerifyAndParseNotification(t *testing.T) {
	adapter := newTestAdapter(t, &fakeGoPay{}, map[string]any{"webhook_secret": "whsec"})
	query := url.Values{"id": []string{"3000006529"}}

	err := adapter.Verify(context.Background(), nil, http.Header{}, query)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte("3000006529"))
	headers := http.Header{}
	headers.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	assert.NoError(t, adapter.Verify(context.Background(), nil, headers, query))

	n, err := adapter.ParseNotification(context.Background(), nil, query)
	require.NoError(t, err)
	assert.Equal(t, "3000006529", n.TransactionID)
	assert.Equal(t, domain.StatusUnknown, n.StatusHint)

	n, err = adapter.ParseNotification(context.Background(), []byte(`{"id":77,"order_number":"INV-1","state":"PAID"}`), url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "77", n.TransactionID)
	assert.Equal(t, "INV-1", n.ReferenceID)
	assert.Equal(t, domain.StatusPaid, n.StatusHint)

	_, err = adapter.ParseNotification(context.Background(), nil, url.Values{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
