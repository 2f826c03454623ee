package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/api"
	"github.com/edudata-io/sis-sync/internal/config"
	"github.com/edudata-io/sis-sync/internal/db"
	"github.com/edudata-io/sis-sync/internal/ingest"
	"github.com/edudata-io/sis-sync/internal/metrics"
	"github.com/edudata-io/sis-sync/internal/upstream"
)

// @title SIS Sync API
// @version 1.0
// @description Sync orchestration and bulk ingestion for school information systems
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DBConnectionString == "" {
		logger.Fatal("Missing required configuration (DB_CONNECTION_STRING must be set)")
	}
	syncCfg := config.DefaultSyncConfig()

	// Initialize database
	store, err := db.NewPostgresStore(cfg.DBConnectionString)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Run migrations with retry logic
	if err := retry(3, 5*time.Second, func() error {
		return store.Migrate()
	}); err != nil {
		logger.Fatalf("Failed to run migrations after retries: %v", err)
	}

	metrics.Init()

	// Upstream access: cached credentials, retrying client, paging collector
	creds := upstream.NewCredentialCache(syncCfg.Retry.RefreshBuffer)
	client := upstream.NewClient(creds, syncCfg.Retry, logger)
	collector := upstream.NewCollector(syncCfg.Upstream, logger)

	// Load path: bulk loader and reference resolver share the store's pool
	loader := db.NewBulkLoader(store.DB(), syncCfg.Load.MaxStatementParams, logger)
	resolver := db.NewResolver(store.DB(), syncCfg.Load.ResolverChunkSize)

	jobs := ingest.NewJobSet(client, collector, store, loader, resolver, syncCfg)
	tracker := ingest.NewRunTracker(store, logger)
	refresh := ingest.NewRefreshPipeline(syncCfg.RefreshSteps, ingest.NewSQLRefreshRunner(store.DB()), logger)
	orchestrator := ingest.NewOrchestrator(tracker, jobs.SequenceFor, syncCfg, logger,
		ingest.WithRefreshPipeline(refresh))

	// Setup router
	handler := api.NewHandler(orchestrator, store, cfg.AcademicYear, logger)
	router := api.SetupRouter(handler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Scheduled sync of all active tenants
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if cfg.SyncInterval > 0 {
		go runScheduler(schedCtx, orchestrator, store, cfg, logger)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	schedCancel()
	orchestrator.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server exited properly")
}

// runScheduler triggers a blocking all-active sync run every interval.
// Overlap is impossible: the next tick is not consumed until the previous
// run has finished.
func runScheduler(ctx context.Context, orchestrator *ingest.Orchestrator, store db.Store, cfg *config.Config, logger *logrus.Logger) {
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tenants, err := store.ListActiveTenants(ctx)
		if err != nil {
			logger.WithError(err).Error("Scheduled sync failed to list tenants")
			continue
		}

		run, err := orchestrator.Execute(ctx, ingest.RunScope{
			Tenants:      tenants,
			Description:  "all-active",
			AcademicYear: cfg.AcademicYear,
			TriggeredBy:  "scheduler",
		})
		if err != nil {
			logger.WithError(err).Error("Scheduled sync failed to start")
			continue
		}
		logger.WithFields(logrus.Fields{
			"run_id": run.ID,
			"status": run.Status,
		}).Info("Scheduled sync run finished")
	}
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
