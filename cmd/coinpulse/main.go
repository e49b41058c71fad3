package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coinpulse/internal/clock"
	"github.com/smallbiznis/coinpulse/internal/config"
	"github.com/smallbiznis/coinpulse/internal/counter"
	"github.com/smallbiznis/coinpulse/internal/event"
	"github.com/smallbiznis/coinpulse/internal/ingest"
	"github.com/smallbiznis/coinpulse/internal/keylock"
	"github.com/smallbiznis/coinpulse/internal/machine"
	"github.com/smallbiznis/coinpulse/internal/migration"
	"github.com/smallbiznis/coinpulse/internal/observability"
	"github.com/smallbiznis/coinpulse/internal/ratelimit"
	"github.com/smallbiznis/coinpulse/internal/rollup"
	"github.com/smallbiznis/coinpulse/internal/server"
	"github.com/smallbiznis/coinpulse/internal/stats"
	"github.com/smallbiznis/coinpulse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		keylock.Module,

		// Functional Domains
		machine.Module,
		event.Module,
		counter.Module,
		rollup.Module,
		ingest.Module,
		stats.Module,

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
