package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/failure"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	"github.com/smallbiznis/orderbridge/internal/observability/tracing"
	"go.opentelemetry.io/otel/propagation"
)

// Remote pushes sync requests to the accounting system's JSON endpoint.
type Remote struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewRemote(cfg config.LedgerConfig, client *http.Client) *Remote {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.URL), "/") + "/entries",
		token:    cfg.Token,
		http:     client,
	}
}

type remoteEntry struct {
	SourceRef     string    `json:"source_ref"`
	SourceType    string    `json:"source_type"`
	TransactionID string    `json:"transaction_id"`
	InvoiceID     string    `json:"invoice_id"`
	OrderID       string    `json:"order_id,omitempty"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Push sends req. A 409 means the remote already holds the entry.
func (r *Remote) Push(ctx context.Context, req ledgerdomain.SyncRequest) error {
	body, err := json.Marshal(remoteEntry{
		SourceRef:     req.SourceRef(),
		SourceType:    string(req.SourceType),
		TransactionID: req.TransactionID,
		InvoiceID:     req.InvoiceID,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		OccurredAt:    req.OccurredAt.UTC(),
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.SourceRef())
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return failure.Upstream("ledger_unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return failure.Upstream("ledger_http_error", &failure.StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		})
	}
	return nil
}
