// Command backfill rebuilds the derived laws tables from the events
// store and exits. Useful after restoring a database or changing
// inference heuristics.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/infrastructure/database"
	"github.com/regradar/regradar-backend/internal/infrastructure/telemetry"
	"github.com/regradar/regradar-backend/internal/metrics"
	"github.com/regradar/regradar-backend/internal/service/backfill"
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
	db, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	stats, err := backfill.NewService(db, logger, metrics.NewRegistry()).Rebuild(ctx)
	if err != nil {
		log.Fatalf("Backfill failed: %v", err)
	}
	logger.Info("backfill complete",
		"laws", stats.Laws,
		"law_updates", stats.LawUpdates,
		"merged_duplicates", stats.MergedDuplicates)
}
