// Command train runs one training pass for the configured city and prints
// the training report as JSON.
//
// Usage:
//
//	go run ./cmd/train
//	go run ./cmd/train -city Zurich
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/parking-occupancy-etl/internal/app"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/training"
)

func main() {
	city := flag.String("city", "", "city to train (default $CITY)")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *city != "" {
		cfg.City = *city
	}
	logger := observability.NewLogger(cfg)
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, logger)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		logger.Error("write report", "error", encErr)
	}
	if err != nil {
		logger.Error("training failed", "city", cfg.City, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (training.Report, error) {
	metrics := observability.NewMetrics()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return training.Report{City: cfg.City}, err
	}
	defer store.Close()

	archive, err := app.OpenArchive(cfg)
	if err != nil {
		return training.Report{City: cfg.City}, err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}()

	// Manual runs do not announce the new version on Kafka.
	trainer, err := app.NewTrainer(cfg, store, archive, nil, logger, metrics)
	if err != nil {
		return training.Report{City: cfg.City}, err
	}
	return trainer.Train(ctx, cfg.City)
}
