/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lease billing core server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + environment)
  2. Build the structured logger
  3. Initialize SQLite store
  4. Wire domain services (dispatcher, ledger, reviewer, engine, job)
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional; defaults and
           LEASECORE_* environment variables apply without one)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configured timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Run with a config file
  ./server -config=./config.yaml

  # Override a knob via environment
  LEASECORE_SERVER_ADDR=:3000 ./server

SEE ALSO:
  - config/config.go: configuration schema and precedence
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/poiuytgh/leasecore/api"
	"github.com/poiuytgh/leasecore/billing"
	"github.com/poiuytgh/leasecore/config"
	"github.com/poiuytgh/leasecore/lease"
	"github.com/poiuytgh/leasecore/logging"
	"github.com/poiuytgh/leasecore/notify"
	"github.com/poiuytgh/leasecore/reconcile"
	"github.com/poiuytgh/leasecore/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Domain wiring.
	dispatcher := notify.NewDispatcher(store, cfg.DedupWindow(), logger)
	ledger := billing.NewBillLedger(store, dispatcher, logger)
	reviewer := billing.NewSlipReviewer(store, ledger, logger)
	engine := lease.NewStatusEngine(store, cfg.ExpiringHorizon(), logger)
	job := reconcile.NewJob(engine, store, dispatcher, store, cfg.ExpiringHorizon(), logger)

	handler := api.NewHandler(store, ledger, reviewer, job, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		SchedulerSecret: cfg.Scheduler.Secret,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
