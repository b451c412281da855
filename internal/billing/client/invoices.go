package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
)

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	params := url.Values{}
	params.Set("invoiceid", invoiceID)

	var resp getInvoiceResponse
	if err := c.call(ctx, "GetInvoice", params, &resp); err != nil {
		if isNotFoundMessage(err) {
			return domain.Invoice{}, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return domain.Invoice{}, err
	}

	total, err := parseAmount(resp.Total.String())
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	invoice := domain.Invoice{
		ID:         resp.InvoiceID.String(),
		CustomerID: resp.UserID.String(),
		Status:     domain.InvoiceStatus(strings.TrimSpace(resp.Status)),
		Total:      total,
		Currency:   strings.ToUpper(strings.TrimSpace(resp.CurrencyCode)),
	}
	if invoice.ID == "" {
		invoice.ID = invoiceID
	}
	for _, tx := range resp.Transactions.Transaction {
		amount, err := parseAmount(tx.AmountIn)
		if err != nil {
			continue
		}
		invoice.Payments = append(invoice.Payments, domain.InvoicePayment{
			TransactionID: strings.TrimSpace(tx.TransID),
			Amount:        amount,
			Method:        tx.Gateway,
			Date:          parseDate(tx.Date),
		})
	}
	return invoice, nil
}

func (c *Client) AddInvoicePayment(ctx context.Context, input domain.PaymentInput) error {
	return c.call(ctx, "AddInvoicePayment", paymentParams(input), nil)
}

// CapturePayment is the higher-level capture call used when
// AddInvoicePayment fails.
func (c *Client) CapturePayment(ctx context.Context, input domain.PaymentInput) error {
	return c.call(ctx, "CapturePayment", paymentParams(input), nil)
}

func (c *Client) SetInvoiceStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus) error {
	params := url.Values{}
	params.Set("invoiceid", invoiceID)
	params.Set("status", string(status))
	return c.call(ctx, "UpdateInvoice", params, nil)
}

func paymentParams(input domain.PaymentInput) url.Values {
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	params := url.Values{}
	params.Set("invoiceid", input.InvoiceID)
	params.Set("transid", input.TransactionID)
	params.Set("amount", formatAmount(input.Amount))
	params.Set("gateway", input.Method)
	params.Set("date", date.Format("2006-01-02 15:04:05"))
	return params
}
