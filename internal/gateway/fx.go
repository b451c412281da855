package gateway

import (
	"net/http"

	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters/gopay"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters/simulated"
	"github.com/smallbiznis/orderbridge/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		client := &http.Client{Timeout: cfg.Gateway.Timeout}
		return adapters.NewRegistry(
			gopay.NewFactory(client),
			simulated.NewFactory(),
		)
	}),
	fx.Provide(service.NewService),
)
