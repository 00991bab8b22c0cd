// Command cashopsd is the operator-facing CLI for the cash operations
// platform: sync, reconcile, forecast, invariants, lock, calendar, trust.
// Every operation here is invoked directly rather than served over a
// network.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultline/cashops/internal/cashcalendar"
	"github.com/vaultline/cashops/internal/config"
	"github.com/vaultline/cashops/internal/connector"
	"github.com/vaultline/cashops/internal/forecast"
	"github.com/vaultline/cashops/internal/health"
	"github.com/vaultline/cashops/internal/ingestion"
	"github.com/vaultline/cashops/internal/invariant"
	"github.com/vaultline/cashops/internal/lineage"
	"github.com/vaultline/cashops/internal/lineage/memlineage"
	"github.com/vaultline/cashops/internal/lineage/pglineage"
	"github.com/vaultline/cashops/internal/lock"
	"github.com/vaultline/cashops/internal/lock/memlock"
	"github.com/vaultline/cashops/internal/lock/redislock"
	applogger "github.com/vaultline/cashops/internal/logger"
	"github.com/vaultline/cashops/internal/matching"
	"github.com/vaultline/cashops/internal/notify"
	"github.com/vaultline/cashops/internal/store"
	"github.com/vaultline/cashops/internal/store/memstore"
	"github.com/vaultline/cashops/internal/store/pgstore"
	"github.com/vaultline/cashops/internal/trust"
	"github.com/vaultline/cashops/internal/workflow"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// app bundles every component engine behind one struct so each cobra
// command only needs to reach into the piece it drives.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	canonical store.Store
	lineage   lineage.Store
	locks     lock.Manager

	registry   *connector.Registry
	orchestrator *ingestion.Orchestrator
	matching   *matching.Engine
	forecast   *forecast.Engine
	invariants *invariant.Engine
	calendar   *cashcalendar.Engine
	trust      *trust.Engine
	workflow   *workflow.Workflow

	alerts  *notify.Client
	health  *health.Poller

	closers []func()
}

// newApp wires every engine against either the in-memory stores (the
// default, suitable for a single CLI invocation operating on one
// process's data) or Postgres-backed + Redis-backed stores when --pg /
// --redis are set.
func newApp(cfg *config.Config, usePG, useRedis bool) (*app, error) {
	logger := applogger.New(cfg)
	a := &app{cfg: cfg, logger: logger}

	if usePG {
		ctx := context.Background()
		pgs, err := pgstore.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect canonical store: %w", err)
		}
		if err := pgs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping canonical store: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect lineage store: %w", err)
		}
		a.canonical = pgs
		a.lineage = pglineage.New(pool)
		a.closers = append(a.closers, pgs.Close, pool.Close)
	} else {
		a.canonical = memstore.New()
		a.lineage = memlineage.New()
	}

	if useRedis {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		a.locks = redislock.New(client, cfg.LockTimeout, cfg.LockTimeout/10)
		a.closers = append(a.closers, func() { _ = client.Close() })
	} else {
		a.locks = memlock.New()
	}

	alertCfg := notify.DefaultConfig()
	alertCfg.RoutingKey = cfg.PagerDutyRoutingKey
	alertCfg.Enabled = cfg.PagerDutyRoutingKey != ""
	a.alerts = notify.New(alertCfg, logger)

	a.registry = connector.NewRegistry()
	a.health = health.New(a.registry, a.alerts, logger, 30*time.Second)
	a.orchestrator = ingestion.New(a.lineage, a.canonical, a.registry, a.locks, logger)
	a.matching = matching.New(a.canonical, a.locks, logger)
	a.forecast = forecast.New(a.canonical, cfg.LockTimeout, logger)
	a.invariants = invariant.New(a.canonical, cfg.InvariantTolerance, logger).WithAlerts(a.alerts)
	a.calendar = cashcalendar.New(a.canonical, a.locks, logger)
	a.trust = trust.New(a.canonical, a.lineage, a.locks, logger).WithAlerts(a.alerts)
	a.workflow = workflow.New(a.canonical, a.locks, logger)

	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
