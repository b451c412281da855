package simulated

import (
	"context"
	"net/url"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaymentIsDeterministic(t *testing.T) {
	a := New()
	req := domain.CreatePaymentRequest{
		Amount:      29900,
		Currency:    "czk",
		ReferenceID: "INV-42",
		ReturnURL:   "https://shop.example/payments/return?invoice_id=INV-42",
	}

	first, err := a.CreatePayment(context.Background(), req)
	require.NoError(t, err)
	second, err := a.CreatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, TransactionID("INV-42", 29900, "CZK"), first.TransactionID)

	redirect, err := url.Parse(first.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, redirect.Query().Get("id"))
	assert.Equal(t, "INV-42", redirect.Query().Get("invoice_id"))
}

func TestStatusDefaultsToPaidAndCanBePinned(t *testing.T) {
	a := New()
	created, err := a.CreatePayment(context.Background(), domain.CreatePaymentRequest{Amount: 100, Currency: "CZK", ReferenceID: "1"})
	require.NoError(t, err)

	status, err := a.GetPaymentStatus(context.Background(), created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, status.Status)

	a.Simulate("TX1", domain.StatusPending, 500, "czk")
	status, err = a.GetPaymentStatus(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status.Status)
	assert.Equal(t, "CZK", status.Currency)

	_, err = a.GetPaymentStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestRefundRequiresPaidTransaction(t *testing.T) {
	a := New()
	a.Simulate("TX1", domain.StatusPending, 500, "CZK")
	_, err := a.RefundPayment(context.Background(), "TX1", 500)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	a.Simulate("TX1", domain.StatusPaid, 500, "CZK")
	_, err = a.RefundPayment(context.Background(), "TX1", 600)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	refunded, err := a.RefundPayment(context.Background(), "TX1", 500)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)
}

func TestParseNotification(t *testing.T) {
	a := New()
	n, err := a.ParseNotification(context.Background(), nil, url.Values{"id": {"TX9"}, "status": {"paid"}})
	require.NoError(t, err)
	assert.Equal(t, "TX9", n.TransactionID)
	assert.Equal(t, domain.StatusPaid, n.StatusHint)

	n, err = a.ParseNotification(context.Background(), []byte(`{"id":"TX2","reference_id":"INV-1"}`), url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "INV-1", n.ReferenceID)

	_, err = a.ParseNotification(context.Background(), []byte(`{}`), url.Values{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
