package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/billingaccount"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/dispatcher"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution"
	"github.com/smallbiznis/supplyrail/internal/migration"
	"github.com/smallbiznis/supplyrail/internal/observability"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing"
	"github.com/smallbiznis/supplyrail/internal/providers"
	"github.com/smallbiznis/supplyrail/internal/scheduler"
	"github.com/smallbiznis/supplyrail/internal/server"
	"github.com/smallbiznis/supplyrail/internal/usage"
	"github.com/smallbiznis/supplyrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		providers.Module,

		// Functional Domains
		invoicingexecution.Module,
		billingaccount.Module,
		usage.Module,
		billinginvoice.Module,
		orderinvoicing.Module,
		dispatcher.Module,
		scheduler.Module,

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
