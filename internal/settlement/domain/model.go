// Package domain describes settlement records, the write-once marker that a
// gateway transaction has been applied to Billing.
package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/orderbridge/internal/failure"
	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeSettled    Outcome = "settled"
)

// Record is keyed by the gateway transaction id. An in_progress record is a
// claim held by one reconcile run; a settled record never changes again.
type Record struct {
	TransactionID string            `gorm:"column:transaction_id;primaryKey;size:128" json:"transaction_id"`
	InvoiceID     string            `gorm:"column:invoice_id;size:64;index" json:"invoice_id"`
	OrderID       string            `gorm:"column:order_id;size:64" json:"order_id"`
	Outcome       Outcome           `gorm:"column:outcome;size:16;not null;index" json:"outcome"`
	Amount        int64             `gorm:"column:amount" json:"amount"`
	Currency      string            `gorm:"column:currency;size:8" json:"currency"`
	Method        string            `gorm:"column:method;size:32" json:"method"`
	Provider      string            `gorm:"column:provider;size:32" json:"provider"`
	Source        string            `gorm:"column:source;size:16" json:"source"`
	ClaimToken    string            `gorm:"column:claim_token;size:64" json:"-"`
	ClaimedAt     time.Time         `gorm:"column:claimed_at;not null" json:"claimed_at"`
	SettledAt     *time.Time        `gorm:"column:settled_at" json:"settled_at,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Record) TableName() string {
	return "settlement_records"
}

func (r Record) Settled() bool {
	return r.Outcome == OutcomeSettled
}

// MetadataRefunded holds the running total refunded against a settled record.
const MetadataRefunded = "refunded_amount"

// Refunded reads the running refund total from Metadata. JSON round trips
// turn the stored integer into a float64 or json.Number.
func (r Record) Refunded() int64 {
	switch v := r.Metadata[MetadataRefunded].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Refundable is the part of the settled amount not yet refunded.
func (r Record) Refundable() int64 {
	return r.Amount - r.Refunded()
}

// WithRefunded returns a copy of r whose Metadata carries total as the
// refunded amount.
func (r Record) WithRefunded(total int64) Record {
	meta := make(datatypes.JSONMap, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[MetadataRefunded] = total
	r.Metadata = meta
	return r
}

type ClaimStatus string

const (
	// ClaimAcquired means the caller owns the record and must Finalize or
	// Release it with Record.ClaimToken.
	ClaimAcquired ClaimStatus = "acquired"
	// ClaimBusy means another run holds a live claim.
	ClaimBusy ClaimStatus = "busy"
	// ClaimSettled means the transaction was already settled.
	ClaimSettled ClaimStatus = "settled"
)

type Claim struct {
	Status ClaimStatus
	Record Record
}

// Store is the only shared mutable state of the reconcile saga. Claim is an
// atomic check-then-insert per transaction id.
type Store interface {
	Get(ctx context.Context, transactionID string) (Record, bool, error)
	// Claim inserts rec as in_progress under a fresh token. An existing
	// in_progress record claimed before now-ttl is taken over.
	Claim(ctx context.Context, rec Record, ttl time.Duration) (Claim, error)
	// Finalize marks the claimed record settled with the values of rec.
	Finalize(ctx context.Context, rec Record) (Record, error)
	// Release drops a claim that did not settle.
	Release(ctx context.Context, transactionID, token string) error
	// ListStale returns in_progress records claimed at or before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)
	// AddRefund moves the refunded total of a settled record by delta. It
	// fails with ErrRefundExceeded when the total would leave [0, Amount]
	// and with ErrNotSettled when the record is missing or still claimed.
	AddRefund(ctx context.Context, transactionID string, delta int64) (Record, error)
}

var (
	ErrInvalidRecord  = failure.New(failure.KindValidation, "invalid_settlement_record")
	ErrClaimLost      = failure.New(failure.KindConflict, "settlement_claim_lost")
	ErrNotSettled     = failure.New(failure.KindConflict, "settlement_not_settled")
	ErrRefundExceeded = failure.New(failure.KindValidation, "refund_exceeds_settled_amount")
)

// Normalize trims identifiers and validates the key.
func Normalize(rec Record) (Record, error) {
	rec.TransactionID = strings.TrimSpace(rec.TransactionID)
	if rec.TransactionID == "" {
		return Record{}, ErrInvalidRecord
	}
	rec.InvoiceID = strings.TrimSpace(rec.InvoiceID)
	rec.OrderID = strings.TrimSpace(rec.OrderID)
	rec.Currency = strings.ToUpper(strings.TrimSpace(rec.Currency))
	rec.Method = strings.ToLower(strings.TrimSpace(rec.Method))
	rec.Provider = strings.ToLower(strings.TrimSpace(rec.Provider))
	return rec, nil
}
