/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic engine server: price history, staff
  postings and invoice composition behind one HTTP API.

STARTUP SEQUENCE:
  1. Load configuration (.env files, environment, then flags)
  2. Build the logger and metrics registry
  3. Open the store (SQLite or PostgreSQL) and migrate the schema
  4. Create API handler with dependencies, optionally seed the demo scenario
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite path or PostgreSQL URL; ":memory:" for an in-memory database
  -driver  sqlite3 | pgx

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/clinic.db"
  ./server -driver=pgx -db="postgres://clinic@localhost:5432/clinic"
  SEED_DEMO=true LOG_LEVEL=debug ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlstore/store.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/clinic-engine/api"
	"github.com/warp/clinic-engine/config"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/store/sqlstore"
	"github.com/warp/clinic-engine/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "SQLite database path or PostgreSQL URL")
	flag.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Database driver (sqlite3 or pgx)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := telemetry.NewMetrics()

	// Initialize store
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, generic.Currency(cfg.Currency), log, metrics)

	if cfg.SeedDemo {
		if err := handler.Load(context.Background(), api.ScenarioSmallClinic); err != nil {
			log.WithError(err).Warn("Failed to seed demo scenario")
		}
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		MetricsPath:    cfg.MetricsPath,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     fmt.Sprintf("http://localhost:%d", cfg.Port),
			"driver":   cfg.DBDriver,
			"currency": cfg.Currency,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
