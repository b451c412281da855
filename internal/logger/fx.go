package logger

import (
	"context"

	"github.com/smallbiznis/orderbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("logger",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)

// NewFromConfig builds the application logger and installs it as the zap
// global for packages that log through zap.L().
func NewFromConfig(cfg config.Config) (*zap.Logger, error) {
	log, err := New(Options{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Fields: []zap.Field{
			zap.String("service", cfg.AppName),
			zap.String("env", cfg.Environment),
		},
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
}
