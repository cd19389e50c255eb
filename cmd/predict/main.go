// Command predict forecasts the occupancy of one location with the active
// model, records the prediction for later reconciliation and prints it as
// JSON.
//
// Usage:
//
//	go run ./cmd/predict -name "Parkhaus Bahnhof Süd"
//	go run ./cmd/predict -name "Parkhaus Steinen" -at 2026-01-15T17:00:00+01:00
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
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/parking-occupancy-etl/internal/app"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/tracking"
	"github.com/couchcryptid/parking-occupancy-etl/internal/training"
)

func main() {
	name := flag.String("name", "", "location name")
	city := flag.String("city", "", "city of the location (default $CITY)")
	at := flag.String("at", "", "target time, RFC3339 with offset (default one hour from now)")
	flag.Parse()

	if *name == "" {
		fmt.Fprintf(os.Stderr, "error: -name is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	target := domain.Now().Add(time.Hour)
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid -at %q: %v\n", *at, err)
			os.Exit(1)
		}
		target = t
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
	target = target.In(cfg.CityZone)
	logger := observability.NewLogger(cfg)
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prediction, err := run(ctx, cfg, *name, target, logger)
	if err != nil {
		logger.Error("prediction failed", "city", cfg.City, "name", *name, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(prediction); err != nil {
		logger.Error("write prediction", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, name string, target time.Time, logger *slog.Logger) (domain.Prediction, error) {
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return domain.Prediction{}, err
	}
	defer store.Close()

	models, err := training.NewModelStore(cfg.ModelDir)
	if err != nil {
		return domain.Prediction{}, err
	}
	tracker := tracking.New(store, logger, observability.NewMetrics())
	return training.NewForecaster(store, models, tracker, cfg.CityZone).Predict(ctx, cfg.City, name, target)
}
