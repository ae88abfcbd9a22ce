package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/briefcast-io/calsync/internal/core/config"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/briefcast-io/calsync/internal/core/storage/memory"
	"github.com/briefcast-io/calsync/internal/core/storage/postgres"
	"github.com/briefcast-io/calsync/internal/migrations"
	"github.com/briefcast-io/calsync/internal/provider/google"
	"github.com/briefcast-io/calsync/internal/registry"
	"github.com/briefcast-io/calsync/internal/server"
	"github.com/briefcast-io/calsync/internal/syncer"
	"github.com/briefcast-io/calsync/internal/token"
	"github.com/briefcast-io/calsync/internal/vault"
)

func main() {
	configPath := flag.String("config", "calsync.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database_type", cfg.Database.Type,
		"provider", cfg.Provider.Name,
		"classifier_rules", len(cfg.Rules))

	// 2. Initialize Storage
	var (
		store storage.Store
		db    *sql.DB
	)
	if cfg.Database.Type == "postgres" {
		dbAdapter, err := postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}

		store = dbAdapter
		db = dbAdapter.DB()
	} else {
		slog.Warn("Using in-memory storage; all state is lost on restart")
		store = memory.NewStore()
	}

	// 3. Initialize Credential Vault
	credVault, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		slog.Error("Failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Calendar Provider
	requestTimeout, _ := cfg.Provider.EffectiveRequestTimeout()
	calProvider := google.New(
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		cfg.Provider.RedirectURL,
		requestTimeout,
	)

	// 5. Initialize Token Lifecycle Manager
	tokenManager := token.NewManager(store, credVault, calProvider)

	// 6. Initialize Connection Registry
	registrySvc := registry.NewService(store, calProvider, tokenManager)

	// 7. Initialize Sync Engine
	classifier := syncer.NewRuleClassifier(cfg.Rules)
	engine := syncer.NewEngine(store, calProvider, tokenManager, classifier, syncer.Options{
		MonthsBack:             cfg.Sync.MonthsBack,
		MonthsForward:          cfg.Sync.MonthsForward,
		MaxConsecutiveFailures: cfg.Sync.MaxConsecutiveFailures,
	})

	// 8. Initialize Stale Lease Reconciler
	leaseTimeout, _ := cfg.Sync.EffectiveLeaseTimeout()
	reconcileInterval, _ := cfg.Sync.EffectiveReconcileInterval()
	reconciler := syncer.NewReconciler(store, leaseTimeout, reconcileInterval)

	// 9. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, cfg.Server.Mode)
	registrySvc.RegisterRoutes(srv.Engine)
	engine.RegisterRoutes(srv.Engine)

	// 10. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := reconciler.Start(ctx); err != nil {
			slog.Error("Reconciler stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Let in-flight syncs release their leases before exiting.
	slog.Info("Waiting for in-flight syncs to finish...")
	engine.Wait()

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
