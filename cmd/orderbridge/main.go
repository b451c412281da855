package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderbridge/internal/authorization"
	"github.com/smallbiznis/orderbridge/internal/billing"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/customer"
	"github.com/smallbiznis/orderbridge/internal/events"
	"github.com/smallbiznis/orderbridge/internal/gateway"
	"github.com/smallbiznis/orderbridge/internal/ledger"
	"github.com/smallbiznis/orderbridge/internal/logger"
	"github.com/smallbiznis/orderbridge/internal/migration"
	"github.com/smallbiznis/orderbridge/internal/observability"
	"github.com/smallbiznis/orderbridge/internal/order"
	"github.com/smallbiznis/orderbridge/internal/payment"
	"github.com/smallbiznis/orderbridge/internal/ratelimit"
	"github.com/smallbiznis/orderbridge/internal/server"
	"github.com/smallbiznis/orderbridge/internal/settlement"
	"github.com/smallbiznis/orderbridge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		ratelimit.Module,
		events.Module,

		// External systems
		billing.Module,
		gateway.Module,

		// Functional Domains
		authorization.Module,
		customer.Module,
		settlement.Module,
		ledger.Module,
		order.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
