package billing

import (
	"github.com/smallbiznis/orderbridge/internal/billing/client"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.client",
	fx.Provide(client.NewService),
)
