package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
)

// Store keeps settlement records in process memory. Records do not survive a
// restart, so it suits single-instance and test deployments only.
type Store struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[string]domain.Record
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Store{clock: clk, records: map[string]domain.Record{}}
}

func (s *Store) Get(_ context.Context, transactionID string) (domain.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[transactionID]
	return rec, ok, nil
}

func (s *Store) Claim(_ context.Context, rec domain.Record, ttl time.Duration) (domain.Claim, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Claim{}, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.TransactionID]
	switch {
	case !ok:
		rec.Outcome = domain.OutcomeInProgress
		rec.ClaimToken = uuid.NewString()
		rec.ClaimedAt = now
		rec.SettledAt = nil
		s.records[rec.TransactionID] = rec
		return domain.Claim{Status: domain.ClaimAcquired, Record: rec}, nil
	case existing.Settled():
		return domain.Claim{Status: domain.ClaimSettled, Record: existing}, nil
	case existing.ClaimedAt.After(now.Add(-ttl)):
		return domain.Claim{Status: domain.ClaimBusy, Record: existing}, nil
	}

	existing.ClaimToken = uuid.NewString()
	existing.ClaimedAt = now
	s.records[rec.TransactionID] = existing
	return domain.Claim{Status: domain.ClaimAcquired, Record: existing}, nil
}

func (s *Store) Finalize(_ context.Context, rec domain.Record) (domain.Record, error) {
	rec, err := domain.Normalize(rec)
	if err != nil {
		return domain.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.TransactionID]
	if !ok || existing.Settled() || existing.ClaimToken != rec.ClaimToken {
		return domain.Record{}, domain.ErrClaimLost
	}
	settledAt := s.clock.Now()
	rec.Outcome = domain.OutcomeSettled
	rec.ClaimedAt = existing.ClaimedAt
	rec.SettledAt = &settledAt
	s.records[rec.TransactionID] = rec
	return rec, nil
}

func (s *Store) Release(_ context.Context, transactionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[transactionID]
	if !ok || existing.Settled() || existing.ClaimToken != token {
		return nil
	}
	delete(s.records, transactionID)
	return nil
}

func (s *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Record, 0)
	for _, rec := range s.records {
		if rec.Settled() || rec.ClaimedAt.After(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddRefund(_ context.Context, transactionID string, delta int64) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[transactionID]
	if !ok || !existing.Settled() {
		return domain.Record{}, domain.ErrNotSettled
	}
	total := existing.Refunded() + delta
	if total < 0 || total > existing.Amount {
		return domain.Record{}, domain.ErrRefundExceeded
	}
	existing = existing.WithRefunded(total)
	s.records[transactionID] = existing
	return existing, nil
}
