package ledger

import (
	"context"

	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	"github.com/smallbiznis/orderbridge/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc *service.Service) ledgerdomain.Mirror { return svc }),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, svc *service.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			svc.Wait()
			return nil
		},
	})
}
