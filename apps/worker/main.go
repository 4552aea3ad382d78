package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/billingaccount"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/dispatcher"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution"
	"github.com/smallbiznis/supplyrail/internal/observability"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing"
	"github.com/smallbiznis/supplyrail/internal/providers"
	"github.com/smallbiznis/supplyrail/internal/scheduler"
	"github.com/smallbiznis/supplyrail/internal/usage"
	"github.com/smallbiznis/supplyrail/pkg/db"
	"go.uber.org/fx"
)

// The worker runs the billing scheduler and the order status consumer
// without the HTTP API. Migrations are left to the API binary.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		providers.Module,

		// Domain services required by scheduler and dispatcher
		invoicingexecution.Module,
		billingaccount.Module,
		usage.Module,
		billinginvoice.Module,
		orderinvoicing.Module,
		dispatcher.Module,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
