package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mixforge/mixforge/internal/clock"
	"github.com/mixforge/mixforge/internal/config"
	"github.com/mixforge/mixforge/internal/credit"
	"github.com/mixforge/mixforge/internal/delivery"
	"github.com/mixforge/mixforge/internal/migration"
	"github.com/mixforge/mixforge/internal/observability"
	"github.com/mixforge/mixforge/internal/pricing"
	"github.com/mixforge/mixforge/internal/processing"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/mixforge/mixforge/internal/ratelimit"
	"github.com/mixforge/mixforge/internal/server"
	"github.com/mixforge/mixforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		queue.Module,
		pricing.Module,
		credit.Module,
		processing.Module,
		delivery.Module,
		ratelimit.Module,

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
