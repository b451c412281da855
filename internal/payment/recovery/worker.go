// Package recovery re-runs reconcile for settlement claims whose run died
// before finalizing or releasing them.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/orderbridge/internal/clock"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/smallbiznis/orderbridge/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"go.uber.org/zap"
)

const lockKey = "orderbridge:settlement-recovery"

type Config struct {
	Schedule  string
	BatchSize int
	ClaimTTL  time.Duration
	LockTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schedule:  "@every 1m",
		BatchSize: 50,
		ClaimTTL:  2 * time.Minute,
		LockTTL:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaults.ClaimTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

type Worker struct {
	cfg          Config
	store        settlementdomain.Store
	orchestrator paymentdomain.Orchestrator
	locker       *ratelimit.Locker
	clock        clock.Clock
	log          *zap.Logger
	cron         *cron.Cron
}

func NewWorker(cfg Config, store settlementdomain.Store, orchestrator paymentdomain.Orchestrator, locker *ratelimit.Locker, clk clock.Clock, log *zap.Logger) *Worker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log = log.Named("payment.recovery")
	cronLog := cronLogger{log: log.Sugar()}
	return &Worker{
		cfg:          cfg.withDefaults(),
		store:        store,
		orchestrator: orchestrator,
		locker:       locker,
		clock:        clk,
		log:          log,
		cron:         cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
	}
}

// Result counts what one sweep did.
type Result struct {
	Scanned int
	Settled int
	Pending int
	Failed  int
}

// RunOnce sweeps stale claims once. When another instance holds the sweep
// lock it returns an empty result.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	lease, ok, err := w.locker.Acquire(ctx, lockKey, w.cfg.LockTTL)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		w.log.Debug("recovery sweep skipped, lock held elsewhere")
		return Result{}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn("recovery lock release failed", zap.Error(err))
		}
	}()

	cutoff := w.clock.Now().Add(-w.cfg.ClaimTTL)
	stale, err := w.store.ListStale(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}

	var (
		res    Result
		jobErr error
	)
	for _, rec := range stale {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(jobErr, err)
		}
		res.Scanned++
		out, err := w.orchestrator.Reconcile(ctx, paymentdomain.Trigger{
			TransactionID: rec.TransactionID,
			ReferenceID:   rec.InvoiceID,
			OrderID:       rec.OrderID,
			Method:        rec.Method,
			Provider:      rec.Provider,
			Source:        paymentdomain.SourceRecovery,
		})
		if err != nil {
			res.Failed++
			jobErr = errors.Join(jobErr, err)
			w.log.Warn("stale settlement not recovered", zap.String("transaction_id", rec.TransactionID), zap.Error(err))
			continue
		}
		if out.Settled() {
			res.Settled++
			continue
		}
		res.Pending++
		switch out.Status {
		case paymentdomain.StatusPaid, paymentdomain.StatusProcessing, paymentdomain.StatusUnknown:
		default:
			// The gateway no longer reports the payment as paid.
			if err := w.store.Release(ctx, rec.TransactionID, rec.ClaimToken); err != nil {
				jobErr = errors.Join(jobErr, err)
			}
		}
	}

	if res.Scanned > 0 {
		w.log.Info("recovery sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("settled", res.Settled),
			zap.Int("pending", res.Pending),
			zap.Int("failed", res.Failed),
		)
	}
	return res, jobErr
}

// Start schedules RunOnce on the configured cron spec.
func (w *Worker) Start() error {
	if w.cfg.Schedule == "" {
		w.log.Info("recovery sweep disabled")
		return nil
	}
	_, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.LockTTL)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("recovery sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	w.log.Info("recovery sweep scheduled", zap.String("schedule", w.cfg.Schedule))
	return nil
}

// Stop waits for a running sweep or ctx, whichever ends first.
func (w *Worker) Stop(ctx context.Context) {
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
