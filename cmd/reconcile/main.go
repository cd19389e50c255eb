// Command reconcile backfills the actual occupancy of past predictions and
// prints the result with the city's prediction accuracy as JSON.
//
// Usage:
//
//	go run ./cmd/reconcile
//	go run ./cmd/reconcile -id 42 -actual 87
//	go run ./cmd/reconcile -id 42 -actual 91 -overwrite
//
// Without -id every due prediction of the city is matched to the nearest
// observation within RECONCILE_TOLERANCE.
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
)

type report struct {
	Due        *tracking.ReconcileSummary `json:"due,omitempty"`
	Prediction *domain.Prediction         `json:"prediction,omitempty"`
	Accuracy   domain.PredictionAccuracy  `json:"accuracy"`
}

type options struct {
	id        int64
	actual    int
	overwrite bool
	since     time.Duration
}

func main() {
	var opts options
	city := flag.String("city", "", "city to reconcile (default $CITY)")
	flag.Int64Var(&opts.id, "id", 0, "prediction to reconcile by hand")
	flag.IntVar(&opts.actual, "actual", -1, "observed occupied spaces for -id")
	flag.BoolVar(&opts.overwrite, "overwrite", false, "replace an existing actual for -id")
	flag.DurationVar(&opts.since, "since", 7*24*time.Hour, "accuracy window")
	flag.Parse()

	if opts.id != 0 && opts.actual < 0 {
		fmt.Fprintf(os.Stderr, "error: -id needs a non-negative -actual\n\n")
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

	out, err := run(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("reconcile failed", "city", cfg.City, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("write report", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) (report, error) {
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return report{}, err
	}
	defer store.Close()

	tracker := tracking.New(store, logger, observability.NewMetrics())

	var out report
	switch {
	case opts.id != 0 && opts.overwrite:
		p, err := tracker.OverwriteActual(ctx, opts.id, opts.actual)
		if err != nil {
			return report{}, err
		}
		out.Prediction = &p
	case opts.id != 0:
		p, err := tracker.ReconcileActual(ctx, opts.id, opts.actual)
		if err != nil {
			return report{}, err
		}
		out.Prediction = &p
	default:
		summary, err := tracker.ReconcileDue(ctx, cfg.City, domain.Now(), cfg.ReconcileTolerance)
		if err != nil {
			return report{}, err
		}
		out.Due = &summary
	}

	if out.Accuracy, err = tracker.Accuracy(ctx, cfg.City, domain.Now().Add(-opts.since)); err != nil {
		return report{}, err
	}
	return out, nil
}
