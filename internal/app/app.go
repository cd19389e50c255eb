// Package app wires the adapters selected by configuration. It is shared by
// the commands under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/archive"
	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/memstore"
	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/postgres"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/pipeline"
	"github.com/couchcryptid/parking-occupancy-etl/internal/training"
)

// OpenStore opens the configured storage backend. The postgres schema is
// created if missing.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return memstore.New(), nil
	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewGeocoder returns the cached Mapbox geocoder, or nil when geocoding is disabled.
func NewGeocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.Geocoder {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
		return nil
	}
	metrics.GeocodeEnabled.Set(1)
	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	return mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
}

// OpenArchive opens the historical archive directory.
func OpenArchive(cfg *config.Config) (*archive.Archive, error) {
	return archive.New(cfg.ArchiveDir)
}

// IngestArchive returns the archive as an ingestion sink, or nil when
// archiving is disabled.
func IngestArchive(cfg *config.Config, a *archive.Archive) pipeline.ArchiveAppender {
	if !cfg.ArchiveEnabled || a == nil {
		return nil
	}
	return a
}

// NewTrainer builds the resolver, model store and trainer for cfg. A nil
// archive skips the archive tier.
func NewTrainer(cfg *config.Config, store domain.Store, a *archive.Archive, publisher training.ModelPublisher, logger *slog.Logger, metrics *observability.Metrics) (*training.Trainer, error) {
	models, err := training.NewModelStore(cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	var source training.ArchiveSource
	if a != nil {
		source = a
	}
	seed := uint64(domain.Now().UnixNano()) //nolint:gosec // any seed will do
	generator := training.NewSeededGenerator(seed, cfg.SyntheticSamples)
	resolver := training.NewResolver(store, source, generator, cfg.MinTrainingRecords, logger)
	return training.NewTrainer(store, resolver, models, publisher, logger, metrics), nil
}
