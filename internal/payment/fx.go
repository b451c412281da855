package payment

import (
	"context"

	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/smallbiznis/orderbridge/internal/payment/recovery"
	paymentservice "github.com/smallbiznis/orderbridge/internal/payment/service"
	"github.com/smallbiznis/orderbridge/internal/payment/webhook"
	"github.com/smallbiznis/orderbridge/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(newRecoveryWorker),
	fx.Invoke(runRecovery),
)

func newRecoveryWorker(
	cfg config.Config,
	store settlementdomain.Store,
	orchestrator paymentdomain.Orchestrator,
	locker *ratelimit.Locker,
	clk clock.Clock,
	log *zap.Logger,
) *recovery.Worker {
	return recovery.NewWorker(recovery.Config{
		Schedule: cfg.Settlement.RecoverySchedule,
		ClaimTTL: cfg.Settlement.ClaimTTL,
	}, store, orchestrator, locker, clk, log)
}

func runRecovery(lc fx.Lifecycle, worker *recovery.Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return worker.Start()
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop(ctx)
			return nil
		},
	})
}
