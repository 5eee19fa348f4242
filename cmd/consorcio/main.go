// consorcio is the multi-tenant building management backend.
//
// It reads configuration from config.json in the working directory (with
// CONSORCIO_* environment overrides), connects to PostgreSQL, bootstraps
// the shared public schema, and starts an HTTP server. Each building's
// data lives in its own schema, provisioned when the building is created
// and repaired on demand.
//
// Usage:
//
//	./consorcio               # reads ./config.json, starts server
//	docker compose up -d      # runs via Docker with mounted config
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/auth"
	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/claims"
	"github.com/primal-host/consorcio/internal/config"
	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/metrics"
	"github.com/primal-host/consorcio/internal/owners"
	"github.com/primal-host/consorcio/internal/providers"
	"github.com/primal-host/consorcio/internal/server"
	"github.com/primal-host/consorcio/internal/spaces"
	"github.com/primal-host/consorcio/internal/tenancy"
	"github.com/primal-host/consorcio/internal/webhook"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("consorcio stopped with error", zap.Error(err))
	}
	logger.Info("consorcio stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("consorcio starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("db", cfg.DBConn+"/"+cfg.DBName),
		zap.String("env", cfg.Env))

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL and bootstrap the public schema.
	mgmt, err := database.OpenManagement(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer mgmt.Close()
	logger.Info("database connected, public schema bootstrapped")

	m := metrics.New("consorcio")

	accounts := account.NewStore(mgmt.Pool)
	buildings := building.NewStore(mgmt.Pool)
	hooks := webhook.NewStore(mgmt.Pool)

	prov := tenancy.NewProvisioner(mgmt.Pool, buildings, logger.Named("provisioner"), m)
	router := tenancy.NewRouter(buildings,
		database.TenantOpener(cfg.ConnString(), database.TenantPoolOptions{MaxConns: int32(cfg.TenantPoolMaxConns)}),
		tenancy.RouterOptions{Size: cfg.TenantCacheSize, TTL: cfg.CacheTTL()},
		logger.Named("router"), m)
	defer router.Close()
	gw := tenancy.NewGateway(router, logger.Named("gateway"), m)

	dispatcher := webhook.NewDispatcher(hooks, cfg.WebhookTimeoutDuration(), cfg.Production(), logger.Named("webhook"), m)

	srv := server.New(server.Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		DB:        mgmt.Pool,
		JWT:       auth.NewJWTManager(cfg.JWTSecret, "consorcio"),
		Accounts:  accounts,
		Buildings: building.NewService(buildings, prov, accounts, dispatcher, cfg.TrialDays, logger.Named("building")),
		Claims:    claims.NewService(gw, prov, logger.Named("claims")),
		Spaces:    spaces.NewService(gw, prov, accounts, logger.Named("spaces")),
		Webhooks:  hooks,
		Router:    router,

		Owners:           owners.NewService(mgmt.Pool, accounts, dispatcher, logger.Named("owners")),
		Verifier:         account.NewVerifier(mgmt.Pool, accounts, dispatcher, logger.Named("account")),
		Providers:        providers.NewService(gw, prov, logger.Named("providers")),
		ProviderRegistry: providers.NewRegistry(mgmt.Pool),
	})

	// Blocks until the context is cancelled.
	return srv.Start(ctx)
}
