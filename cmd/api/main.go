package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/regradar/regradar-backend/internal/api/rest"
	"github.com/regradar/regradar-backend/internal/infrastructure/cache"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/infrastructure/database"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/infrastructure/telemetry"
	"github.com/regradar/regradar-backend/internal/metrics"
	"github.com/regradar/regradar-backend/internal/service/analysis"
	"github.com/regradar/regradar-backend/internal/service/backfill"
	"github.com/regradar/regradar-backend/internal/service/crawler"
	"github.com/regradar/regradar-backend/internal/service/ingestion"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	ctx := context.Background()
	provider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    "regradar-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := metrics.NewRegistry()

	fetcher := ingestion.NewService(cfg, logger, m)
	analyzer := analysis.NewAnalyzer(cfg.Anthropic, logger)
	backfiller := backfill.NewService(db, logger, m)
	coordinator := crawler.NewCoordinator(db, fetcher, analyzer, backfiller, cfg, logger, m)

	// A crash mid-crawl leaves a stale running row; mark it failed so
	// the next trigger is not refused.
	if err := coordinator.ReconcileInterrupted(ctx); err != nil {
		log.Fatalf("Failed to reconcile interrupted runs: %v", err)
	}

	// Rebuild the derived laws tables so reads are coherent with the
	// events store even after a crash between commit and backfill.
	if stats, err := backfiller.Rebuild(ctx); err != nil {
		logger.Error("startup backfill failed", "error", err)
	} else {
		logger.Info("startup backfill complete",
			"laws", stats.Laws, "law_updates", stats.LawUpdates)
	}

	briefCache, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer briefCache.Close()

	handler := rest.NewHandler(
		repository.NewEventRepository(db),
		repository.NewLawRepository(db),
		repository.NewSourceRepository(db),
		repository.NewNotificationRepository(db),
		coordinator, backfiller, briefCache, logger)
	router := rest.NewRouter(handler, m, logger)
	server := rest.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}
