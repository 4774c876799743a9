package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/northmeter/ledger/internal/alert"
	"github.com/northmeter/ledger/internal/attribution"
	"github.com/northmeter/ledger/internal/clock"
	"github.com/northmeter/ledger/internal/config"
	"github.com/northmeter/ledger/internal/ledger"
	"github.com/northmeter/ledger/internal/migration"
	"github.com/northmeter/ledger/internal/observability"
	"github.com/northmeter/ledger/internal/reporting"
	"github.com/northmeter/ledger/internal/server"
	"github.com/northmeter/ledger/internal/tenant"
	"github.com/northmeter/ledger/internal/usageevent"
	"github.com/northmeter/ledger/pkg/db"
	"github.com/northmeter/ledger/pkg/log"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerLocker(cfg config.Config) *ledger.Locker {
	if cfg.RedisAddr == "" {
		return nil
	}
	return ledger.NewLocker(redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	}))
}

func main() {
	fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(registerLocker),
		db.Module,
		clock.Module,
		alert.Module,
		migration.Module,
		tenant.Module,
		attribution.Module,
		usageevent.Module,
		ledger.Module,
		reporting.Module,
		server.Module,
	).Run()
}
