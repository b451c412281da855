package events

import (
	"context"

	"github.com/smallbiznis/orderbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher connects to AMQP_URL, falling back to dropping events when the
// broker is absent or unreachable.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if cfg.AMQPURL == "" {
		log.Info("AMQP_URL not set, events are not published")
		return NewFallback(log)
	}
	publisher, err := NewAMQPPublisher(cfg.AMQPURL, log)
	if err != nil {
		log.Warn("event broker unavailable, events are not published", zap.Error(err))
		return NewFallback(log)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			publisher.Close()
			return nil
		},
	})
	return publisher
}
