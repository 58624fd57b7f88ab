/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the back-office ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build the orchestrator and register every entity kind
  4. Configure HTTP router and the period-closing scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: backoffice.db)
              Use ":memory:" for in-memory database
  -log-level  logrus level: debug, info, warn, error (default: info)
  -admin      Comma-separated actor ids granted every capability

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the period scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/backoffice.db"

  # Run with in-memory database and an admin user
  ./server -db=":memory:" -admin=alice

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinicware/backoffice/api"
	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
	"github.com/clinicware/backoffice/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "backoffice.db", "SQLite database path")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	admins := flag.String("admin", "", "comma-separated actor ids granted every capability")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Capability grants: named admins get everything the engine gates on.
	auth := api.StaticCapabilities{}
	for _, actor := range strings.Split(*admins, ",") {
		if actor = strings.TrimSpace(actor); actor != "" {
			auth[actor] = allCapabilities()
		}
	}

	// Build the engine and register every kind.
	orch := ledger.NewOrchestrator(store, auth, ledger.SystemClock{}, ledger.DefaultPeriodPolicy(), log)
	domain.RegisterAll(orch)

	handler := api.NewHandler(orch, store, log)
	router := api.NewRouter(handler)

	scheduler := api.NewPeriodScheduler(orch, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

// allCapabilities is the full grant set handed to -admin actors.
func allCapabilities() []string {
	caps := []string{ledger.CapabilityPeriodOverride}
	for _, d := range domain.Descriptors() {
		caps = append(caps, d.DateCapability, d.DeleteCapability)
	}
	return caps
}
