package domain

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderbridge/internal/failure"
)

// EntryDirection represents debit or credit postings.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

type SourceType string

const (
	SourceTypePayment SourceType = "payment" // settled customer payment
	SourceTypeRefund  SourceType = "refund"  // money returned to customer
)

type AccountCode string

const (
	// Assets
	AccountCodeAccountsReceivable AccountCode = "accounts_receivable"
	AccountCodeCash               AccountCode = "cash"

	// Liabilities
	AccountCodeRefundLiability AccountCode = "refund_liability"
)

// Entry captures the immutable header for a mirrored financial event. One
// entry exists per (source_type, source_ref).
type Entry struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SourceType     SourceType   `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:1"`
	SourceRef      string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	InvoiceID      string       `gorm:"type:text;index"`
	OrderID        string       `gorm:"type:text"`
	Currency       string       `gorm:"type:text;not null"`
	OccurredAt     time.Time    `gorm:"not null"`
	RemoteSyncedAt *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

// EntryLine is a double-entry posting line.
type EntryLine struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID   `gorm:"not null;index"`
	AccountCode   AccountCode    `gorm:"type:text;not null"`
	Direction     EntryDirection `gorm:"type:text;not null"`
	Amount        int64          `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (EntryLine) TableName() string { return "ledger_entry_lines" }

// SyncRequest describes one settled payment or refund to mirror.
type SyncRequest struct {
	SourceType    SourceType `json:"source_type"`
	TransactionID string     `json:"transaction_id"`
	InvoiceID     string     `json:"invoice_id"`
	OrderID       string     `json:"order_id,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method,omitempty"`
	// RefundedTotal is the running refund total after this refund. It tells
	// successive partial refunds of one transaction apart.
	RefundedTotal int64      `json:"refunded_total,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// SourceRef is the idempotency key of the request.
func (r SyncRequest) SourceRef() string {
	ref := string(r.SourceType) + ":" + r.TransactionID
	if r.SourceType == SourceTypeRefund && r.RefundedTotal > 0 {
		ref += ":" + strconv.FormatInt(r.RefundedTotal, 10)
	}
	return ref
}

// Postings returns the balanced lines for the request.
func (r SyncRequest) Postings() []EntryLine {
	debit, credit := AccountCodeCash, AccountCodeAccountsReceivable
	if r.SourceType == SourceTypeRefund {
		debit, credit = AccountCodeRefundLiability, AccountCodeCash
	}
	return []EntryLine{
		{AccountCode: debit, Direction: EntryDirectionDebit, Amount: r.Amount},
		{AccountCode: credit, Direction: EntryDirectionCredit, Amount: r.Amount},
	}
}

func (r SyncRequest) Validate() error {
	switch r.SourceType {
	case SourceTypePayment, SourceTypeRefund:
	default:
		return ErrInvalidSourceType
	}
	if strings.TrimSpace(r.TransactionID) == "" {
		return ErrInvalidSourceRef
	}
	if strings.TrimSpace(r.Currency) == "" {
		return ErrInvalidCurrency
	}
	if r.Amount <= 0 {
		return ErrInvalidLineAmount
	}
	if r.OccurredAt.IsZero() {
		return ErrInvalidOccurredAt
	}
	return nil
}

// Mirror accepts sync requests without blocking the caller.
type Mirror interface {
	Enqueue(ctx context.Context, req SyncRequest) bool
}

var (
	ErrInvalidSourceType = failure.New(failure.KindValidation, "invalid_source_type")
	ErrInvalidSourceRef  = failure.New(failure.KindValidation, "invalid_source_ref")
	ErrInvalidCurrency   = failure.New(failure.KindValidation, "invalid_currency")
	ErrInvalidOccurredAt = failure.New(failure.KindValidation, "invalid_occurred_at")
	ErrInvalidLineAmount = failure.New(failure.KindValidation, "invalid_line_amount")
	ErrUnbalancedEntry   = failure.New(failure.KindIntegrity, "unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []EntryLine) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case EntryDirectionDebit:
			debit += line.Amount
		case EntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrUnbalancedEntry
		}
	}
	if len(lines) < 2 || debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}
