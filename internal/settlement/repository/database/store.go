package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists settlement records in the settlement_records table.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

func New(db *gorm.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Store{db: db, clock: clk}
}

func (s *Store) Get(ctx context.Context, transactionID string) (domain.Record, bool, error) {
	var rec domain.Record
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Claim(ctx context.Context, rec domain.Record, ttl time.Duration) (domain.Claim, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Claim{}, err
	}
	now := s.clock.Now()
	rec.Outcome = domain.OutcomeInProgress
	rec.ClaimToken = uuid.NewString()
	rec.ClaimedAt = now
	rec.SettledAt = nil

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return domain.Claim{}, res.Error
	}
	if res.RowsAffected > 0 {
		return domain.Claim{Status: domain.ClaimAcquired, Record: rec}, nil
	}

	existing, ok, err := s.Get(ctx, rec.TransactionID)
	if err != nil {
		return domain.Claim{}, err
	}
	if !ok {
		// Released between the insert and the read.
		return domain.Claim{Status: domain.ClaimBusy, Record: rec}, nil
	}
	if existing.Settled() {
		return domain.Claim{Status: domain.ClaimSettled, Record: existing}, nil
	}
	if existing.ClaimedAt.After(now.Add(-ttl)) {
		return domain.Claim{Status: domain.ClaimBusy, Record: existing}, nil
	}

	token := uuid.NewString()
	res = s.db.WithContext(ctx).Exec(
		`UPDATE settlement_records
		 SET claim_token = ?, claimed_at = ?
		 WHERE transaction_id = ? AND outcome = ? AND claim_token = ?`,
		token,
		now,
		existing.TransactionID,
		domain.OutcomeInProgress,
		existing.ClaimToken,
	)
	if res.Error != nil {
		return domain.Claim{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Claim{Status: domain.ClaimBusy, Record: existing}, nil
	}
	existing.ClaimToken = token
	existing.ClaimedAt = now
	return domain.Claim{Status: domain.ClaimAcquired, Record: existing}, nil
}

func (s *Store) Finalize(ctx context.Context, rec domain.Record) (domain.Record, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Record{}, err
	}
	settledAt := s.clock.Now()

	res := s.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("transaction_id = ? AND outcome = ? AND claim_token = ?",
			rec.TransactionID, domain.OutcomeInProgress, rec.ClaimToken).
		Updates(map[string]any{
			"invoice_id": rec.InvoiceID,
			"order_id":   rec.OrderID,
			"outcome":    domain.OutcomeSettled,
			"amount":     rec.Amount,
			"currency":   rec.Currency,
			"method":     rec.Method,
			"provider":   rec.Provider,
			"source":     rec.Source,
			"metadata":   rec.Metadata,
			"settled_at": settledAt,
		})
	if res.Error != nil {
		return domain.Record{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Record{}, domain.ErrClaimLost
	}

	stored, ok, err := s.Get(ctx, rec.TransactionID)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, domain.ErrClaimLost
	}
	return stored, nil
}

func (s *Store) Release(ctx context.Context, transactionID, token string) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM settlement_records
		 WHERE transaction_id = ? AND outcome = ? AND claim_token = ?`,
		transactionID,
		domain.OutcomeInProgress,
		token,
	).Error
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.Record
	err := s.db.WithContext(ctx).
		Where("outcome = ? AND claimed_at <= ?", domain.OutcomeInProgress, cutoff).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) AddRefund(ctx context.Context, transactionID string, delta int64) (domain.Record, error) {
	var out domain.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("transaction_id = ?", transactionID).
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotSettled
		}
		if err != nil {
			return err
		}
		if !rec.Settled() {
			return domain.ErrNotSettled
		}
		total := rec.Refunded() + delta
		if total < 0 || total > rec.Amount {
			return domain.ErrRefundExceeded
		}
		rec = rec.WithRefunded(total)
		if err := tx.Model(&domain.Record{}).
			Where("transaction_id = ?", transactionID).
			Update("metadata", rec.Metadata).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	return out, nil
}
