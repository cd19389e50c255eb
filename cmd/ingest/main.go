// Command ingest merges one feed batch file into the store and prints the
// ingest summary and the city's stored history as JSON.
//
// Usage:
//
//	go run ./cmd/ingest -file data/basel_snapshot.json
//	go run ./cmd/ingest -deactivate "Parkhaus Clarahuus"
//
// Configuration is read from the environment (and a .env file when present),
// as for the etl service. Kafka settings are ignored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/parking-occupancy-etl/internal/app"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/pipeline"
)

type report struct {
	Ingest      *pipeline.IngestSummary `json:"ingest,omitempty"`
	Deactivated string                  `json:"deactivated,omitempty"`
	Status      pipeline.CityStatus     `json:"status"`
}

func main() {
	file := flag.String("file", "", "path to a feed batch JSON file")
	deactivate := flag.String("deactivate", "", "location name to mark inactive")
	city := flag.String("city", "", "city for -deactivate and the status report (default $CITY)")
	flag.Parse()

	if *file == "" && *deactivate == "" {
		fmt.Fprintf(os.Stderr, "error: -file or -deactivate is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

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

	out, err := run(ctx, cfg, *file, *deactivate, logger)
	if err != nil {
		logger.Error("ingest failed", "file", *file, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("write summary", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path, deactivate string, logger *slog.Logger) (report, error) {
	var batch *domain.FeedBatch
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return report{}, fmt.Errorf("read batch: %w", err)
		}
		b, err := domain.DecodeFeedBatch(data)
		if err != nil {
			return report{}, err
		}
		batch = &b
	}

	metrics := observability.NewMetrics()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return report{}, err
	}
	defer store.Close()

	archive, err := app.OpenArchive(cfg)
	if err != nil {
		return report{}, err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}()

	ingestor := pipeline.NewIngestor(store, app.NewGeocoder(cfg, metrics, logger), app.IngestArchive(cfg, archive), nil, logger, metrics)

	var out report
	city := cfg.City
	if batch != nil {
		summary, err := ingestor.Ingest(ctx, *batch)
		if err != nil {
			return report{}, err
		}
		out.Ingest = &summary
		city = batch.City
	}
	if deactivate != "" {
		if err := ingestor.Deactivate(ctx, cfg.City, deactivate); err != nil {
			return report{}, err
		}
		out.Deactivated = deactivate
	}

	if out.Status, err = ingestor.Status(ctx, city); err != nil {
		return report{}, err
	}
	return out, nil
}
