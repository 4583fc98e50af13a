// Package app wires the stores, adapters and services shared by the HTTP
// and MCP binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/assignments"
	"github.com/adcontextprotocol/salesagent/internal/audit"
	"github.com/adcontextprotocol/salesagent/internal/config"
	"github.com/adcontextprotocol/salesagent/internal/db"
	"github.com/adcontextprotocol/salesagent/internal/keys"
	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/naming"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/tenant"
	"github.com/adcontextprotocol/salesagent/internal/workflow"
)

// App holds the wired services.
type App struct {
	Store     *db.Store
	Resolver  *tenant.Resolver
	Tracker   *workflow.Tracker
	MediaBuys *mediabuy.Service
	Limiter   *adserver.TenantLimiter

	closers []func()
}

// Deps are the infrastructure pieces Wire builds on. Cache and Audit are optional.
type Deps struct {
	Store    *db.Store
	Provider adserver.Provider
	Cache    keys.BindingCache
	Audit    audit.Sink
}

// New opens every backing service named by cfg and wires the application.
// Redis and ClickHouse are optional; the ad server falls back to the
// in-memory adapter when no URL is configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics observability.MetricsRegistry) (*App, error) {
	var closers []func()
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	deps := Deps{Store: store}

	if cfg.RedisAddr != "" {
		cache, err := db.InitRedis(cfg.RedisAddr, cfg.BindingCacheTTL)
		if err != nil {
			return fail(fmt.Errorf("failed to connect redis: %w", err))
		}
		closers = append(closers, cache.Close)
		deps.Cache = cache
	}

	if cfg.AuditEnabled {
		ch, err := audit.InitClickHouse(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to connect clickhouse: %w", err))
		}
		closers = append(closers, ch.Close)
		deps.Audit = ch
	}

	if cfg.AdServerURL != "" {
		creds := adserver.Credentials{Default: cfg.AdServerToken, ByNetwork: cfg.AdServerNetworkTokens}
		deps.Provider = adserver.NewHTTPProvider(cfg.AdServerURL, cfg.AdServerTimeout, creds, logger, metrics)
	} else {
		logger.Warn("no ad server configured, using in-memory adapter")
		deps.Provider = adserver.NewMemoryProvider()
	}

	a := Wire(deps, cfg, logger, metrics)
	a.closers = closers
	return a, nil
}

// Wire builds the services on top of deps.
func Wire(deps Deps, cfg config.Config, logger *zap.Logger, metrics observability.MetricsRegistry) *App {
	limiter := adserver.NewTenantLimiter(adserver.LimiterConfig{
		Capacity:   cfg.AdServerRateLimitCapacity,
		RefillRate: cfg.AdServerRateLimitRefill,
		Enabled:    cfg.AdServerRateLimitCapacity > 0,
	}, metrics)
	provider := adserver.NewLimitedProvider(deps.Provider, limiter)

	retry := adserver.DefaultRetryPolicy
	if cfg.AdServerRetryAttempts > 0 {
		retry.Attempts = cfg.AdServerRetryAttempts
	}
	if cfg.AdServerRetryInitialBackoff > 0 {
		retry.InitialInterval = cfg.AdServerRetryInitialBackoff
	}

	keyOpts := []keys.Option{keys.WithRetryPolicy(retry)}
	if deps.Cache != nil {
		keyOpts = append(keyOpts, keys.WithCache(deps.Cache))
	}

	tracker := workflow.NewTracker(deps.Store, deps.Audit, logger, metrics)
	svc := mediabuy.NewService(deps.Store,
		keys.NewRegistry(deps.Store, provider, logger, metrics, keyOpts...),
		assignments.NewReconciler(deps.Store, deps.Audit, logger, metrics),
		tracker,
		naming.NewEngine(logger, metrics),
		provider, logger, metrics,
		mediabuy.WithRetryPolicy(retry))

	return &App{
		Store: deps.Store,
		Resolver: tenant.NewResolver(deps.Store, tenant.Options{
			BaseDomain:  cfg.BaseDomain,
			TokenSecret: []byte(cfg.TokenSecret),
		}, logger, metrics),
		Tracker:   tracker,
		MediaBuys: svc,
		Limiter:   limiter,
	}
}

// Close releases every connection opened by New, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenStore opens the store selected by cfg.StoreDriver.
func OpenStore(cfg config.Config) (*db.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		store, err := db.OpenPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
