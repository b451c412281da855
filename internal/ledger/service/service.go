package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/orderbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg        config.Config
	DB         *gorm.DB `optional:"true"`
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service mirrors settled payments and refunds into the local double-entry
// tables and the remote accounting system. Work is queued and processed by a
// background worker; mirror failures never reach the caller.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	remote     *Remote
	obsMetrics *obsmetrics.Metrics

	queue chan job
	wg    sync.WaitGroup
}

type job struct {
	req ledgerdomain.SyncRequest
}

func NewService(p Params) *Service {
	size := p.Cfg.Ledger.QueueSize
	if size <= 0 {
		size = 256
	}
	var remote *Remote
	if p.Cfg.Ledger.PushRemote && strings.TrimSpace(p.Cfg.Ledger.URL) != "" {
		remote = NewRemote(p.Cfg.Ledger, nil)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		remote:     remote,
		obsMetrics: p.ObsMetrics,
		queue:      make(chan job, size),
	}
}

// Enqueue schedules req and reports whether it was accepted. A full queue
// drops the request.
func (s *Service) Enqueue(ctx context.Context, req ledgerdomain.SyncRequest) bool {
	if err := req.Validate(); err != nil {
		s.log.Warn("ledger sync request rejected",
			zap.String("transaction_id", req.TransactionID),
			zap.Error(err),
		)
		s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "rejected")
		return false
	}
	select {
	case s.queue <- job{req: req}:
		return true
	default:
		s.log.Warn("ledger sync queue full, dropping request",
			zap.String("transaction_id", req.TransactionID),
			zap.String("source_type", string(req.SourceType)),
		)
		s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "dropped")
		return false
	}
}

// Start runs the worker until ctx is cancelled. Queued requests are
// finished before the worker exits.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case j := <-s.queue:
			s.process(context.Background(), j)
		}
	}
}

// Wait blocks until the worker exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) drain() {
	for {
		select {
		case j := <-s.queue:
			s.process(context.Background(), j)
		default:
			return
		}
	}
}

func (s *Service) process(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	if err := s.Sync(ctx, j.req); err != nil {
		s.log.Warn("ledger sync failed",
			zap.String("transaction_id", j.req.TransactionID),
			zap.String("source_type", string(j.req.SourceType)),
			zap.Error(err),
		)
	}
}

// Sync posts req locally and pushes it to the remote ledger.
func (s *Service) Sync(ctx context.Context, req ledgerdomain.SyncRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	var entryID snowflake.ID
	if s.db != nil {
		id, _, err := s.CreateEntry(ctx, req)
		if err != nil {
			s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "local_failed")
			return err
		}
		entryID = id
	}

	if s.remote == nil {
		s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "local_only")
		return nil
	}
	if err := s.remote.Push(ctx, req); err != nil {
		s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "remote_failed")
		return err
	}
	if s.db != nil && entryID != 0 {
		if err := s.markRemoteSynced(ctx, entryID); err != nil {
			s.log.Warn("failed to mark ledger entry synced", zap.String("ledger_entry_id", entryID.String()), zap.Error(err))
		}
	}
	s.obsMetrics.RecordLedgerSync(ctx, string(req.SourceType), "synced")
	return nil
}

// CreateEntry writes the balanced postings for req once. It returns the
// entry id and whether a new entry was inserted.
func (s *Service) CreateEntry(ctx context.Context, req ledgerdomain.SyncRequest) (snowflake.ID, bool, error) {
	lines := req.Postings()
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return 0, false, err
	}

	var (
		entryID  snowflake.ID
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		candidate := s.genID.Generate()
		result := tx.Exec(
			`INSERT INTO ledger_entries (
				id, source_type, source_ref, invoice_id, order_id, currency, occurred_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_type, source_ref) DO NOTHING`,
			candidate,
			string(req.SourceType),
			req.SourceRef(),
			req.InvoiceID,
			req.OrderID,
			req.Currency,
			req.OccurredAt.UTC(),
			now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var existing ledgerdomain.Entry
			if err := tx.Where("source_type = ? AND source_ref = ?", req.SourceType, req.SourceRef()).
				Take(&existing).Error; err != nil {
				return err
			}
			entryID = existing.ID
			return nil
		}
		entryID = candidate
		inserted = true

		for _, line := range lines {
			if err := tx.Exec(
				`INSERT INTO ledger_entry_lines (
					id, ledger_entry_id, account_code, direction, amount, created_at
				) VALUES (?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				entryID,
				string(line.AccountCode),
				string(line.Direction),
				line.Amount,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if inserted {
		s.log.Info("ledger entry created",
			zap.String("ledger_entry_id", entryID.String()),
			zap.String("source_ref", req.SourceRef()),
			zap.String("invoice_id", req.InvoiceID),
		)
	}
	return entryID, inserted, nil
}

func (s *Service) markRemoteSynced(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE ledger_entries SET remote_synced_at = ? WHERE id = ?`,
		s.clock.Now(),
		id,
	).Error
}
