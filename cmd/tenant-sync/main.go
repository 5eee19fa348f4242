// tenant-sync checks every building's schema and re-provisions the ones
// with missing tables. It talks to PostgreSQL directly with the same
// configuration as the consorcio server.
//
// Usage:
//
//	tenant-sync -config config.json              # repair all buildings
//	tenant-sync -dry-run                         # report only
//	tenant-sync -building 2b7f4c1e-...           # one building
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/config"
	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/tenancy"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the JSON config file")
	dryRun := flag.Bool("dry-run", false, "Report missing tables without provisioning")
	only := flag.String("building", "", "Sync a single building id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgmt, err := database.OpenManagement(ctx, cfg.ConnString())
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer mgmt.Close()

	store := building.NewStore(mgmt.Pool)
	prov := tenancy.NewProvisioner(mgmt.Pool, store, logger.Named("provisioner"), nil)

	s := &Syncer{
		buildings: store,
		prober:    prov.Prober(),
		prov:      prov,
		dryRun:    *dryRun,
		only:      *only,
		log:       logger,
	}
	if err := s.Run(ctx); err != nil {
		logger.Fatal("sync failed", zap.Error(err))
	}
	s.stats.print(os.Stdout)
	if s.stats.Failed > 0 {
		os.Exit(2)
	}
}
