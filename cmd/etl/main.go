package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/parking-occupancy-etl/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/parking-occupancy-etl/internal/adapter/redis"
	"github.com/couchcryptid/parking-occupancy-etl/internal/app"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/pipeline"
	"github.com/couchcryptid/parking-occupancy-etl/internal/scheduler"
	"github.com/couchcryptid/parking-occupancy-etl/internal/tracking"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	archive, err := app.OpenArchive(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}()

	readiness := []sharedobs.ReadinessChecker{httpadapter.PingCheck{Name: "store", Pinger: store}}

	// Live occupancy publish (feature-flagged via REDIS_URL).
	var live pipeline.LivePublisher
	if cfg.RedisURL != "" {
		publisher, err := redisadapter.NewPublisher(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("redis close error", "error", err)
			}
		}()
		live = publisher
		readiness = append(readiness, httpadapter.PingCheck{Name: "redis", Pinger: publisher})
	} else {
		logger.Info("live occupancy publish disabled")
	}

	geocoder := app.NewGeocoder(cfg, metrics, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	ingestor := pipeline.NewIngestor(store, geocoder, app.IngestArchive(cfg, archive), live, logger, metrics)
	p := pipeline.New(reader, ingestor, logger, metrics, cfg.BatchSize, cfg.FetchTimeout)
	readiness = append(readiness, p)

	trainer, err := app.NewTrainer(cfg, store, archive, writer, logger, metrics)
	if err != nil {
		return err
	}
	tracker := tracking.New(store, logger, metrics)

	sched := scheduler.New(clockwork.NewRealClock(), logger,
		scheduler.Job{
			Name:     "train",
			Interval: cfg.TrainInterval,
			Run: func(ctx context.Context) error {
				_, err := trainer.Train(ctx, cfg.City)
				return err
			},
		},
		scheduler.Job{
			Name:     "reconcile",
			Interval: cfg.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := tracker.ReconcileDue(ctx, cfg.City, domain.Now(), cfg.ReconcileTolerance)
				return err
			},
		},
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, logger, readiness...)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}
