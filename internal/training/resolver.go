package training

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

// Tier names the data source a training dataset came from.
type Tier string

const (
	TierDatabase  Tier = "database"
	TierArchive   Tier = "archive"
	TierSynthetic Tier = "synthetic"
)

// DefaultMinRecords is the row count a tier must reach to be used.
const DefaultMinRecords = 50

// ArchiveSource supplies historical rows for a city. A city without an
// archive yields no rows and no error.
type ArchiveSource interface {
	Load(city string) ([]domain.ArchiveRow, error)
}

// Dataset is a resolved training dataset.
type Dataset struct {
	Rows        []domain.TrainingRow
	IsSynthetic bool
	Tier        Tier
}

// Resolver picks the training dataset for a city from the store, the archive
// or the synthetic generator, in that order.
type Resolver struct {
	store      domain.Store
	archive    ArchiveSource
	generator  *Generator
	minRecords int
	logger     *slog.Logger
}

// NewResolver creates a Resolver. archive may be nil. A non-positive
// minRecords uses DefaultMinRecords.
func NewResolver(store domain.Store, archive ArchiveSource, generator *Generator, minRecords int, logger *slog.Logger) *Resolver {
	if minRecords <= 0 {
		minRecords = DefaultMinRecords
	}
	return &Resolver{
		store:      store,
		archive:    archive,
		generator:  generator,
		minRecords: minRecords,
		logger:     logger,
	}
}

// Resolve returns the first tier with at least minRecords valid rows. When
// only the synthetic tier is left and it cannot reach the threshold either,
// an *InsufficientDataError is returned.
func (r *Resolver) Resolve(ctx context.Context, city string) (Dataset, error) {
	logger := r.logger.With("city", city)

	var dbRows []domain.TrainingRow
	err := r.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		dbRows, err = repo.TrainingRows(ctx, city)
		return err
	})
	if err != nil {
		return Dataset{}, fmt.Errorf("load training rows: %w", err)
	}
	dbRows = validRows(dbRows)
	if len(dbRows) >= r.minRecords {
		logger.Info("training data resolved", "tier", TierDatabase, "rows", len(dbRows))
		return Dataset{Rows: dbRows, Tier: TierDatabase}, nil
	}
	logger.Info("database history below threshold", "rows", len(dbRows), "required", r.minRecords)

	archived, err := r.loadArchive(city)
	if err != nil {
		// An unreadable archive only costs this tier.
		logger.Warn("archive unavailable", "error", err)
	}
	if archiveRows := archiveTrainingRows(archived); len(archiveRows) >= r.minRecords {
		logger.Info("training data resolved", "tier", TierArchive, "rows", len(archiveRows))
		return Dataset{Rows: archiveRows, Tier: TierArchive}, nil
	} else if r.archive != nil {
		logger.Info("archive below threshold", "rows", len(archiveRows), "required", r.minRecords)
	}

	var seeds []domain.Snapshot
	err = r.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		seeds, err = repo.LatestSnapshots(ctx, city)
		return err
	})
	if err != nil {
		return Dataset{}, fmt.Errorf("load latest snapshots: %w", err)
	}
	if len(seeds) == 0 {
		seeds = latestArchiveSnapshots(archived)
	}

	synthetic := r.generator.Generate(seeds)
	if len(synthetic) < r.minRecords {
		return Dataset{}, &domain.InsufficientDataError{City: city, Rows: len(synthetic), Required: r.minRecords}
	}
	logger.Warn("training on synthetic data", "seeds", len(seeds), "rows", len(synthetic))
	return Dataset{Rows: synthetic, IsSynthetic: true, Tier: TierSynthetic}, nil
}

func (r *Resolver) loadArchive(city string) ([]domain.ArchiveRow, error) {
	if r.archive == nil {
		return nil, nil
	}
	return r.archive.Load(city)
}

func validRows(rows []domain.TrainingRow) []domain.TrainingRow {
	out := rows[:0:0]
	for _, row := range rows {
		if row.Capacity > 0 {
			out = append(out, row)
		}
	}
	return out
}

func archiveTrainingRows(rows []domain.ArchiveRow) []domain.TrainingRow {
	var out []domain.TrainingRow
	for _, row := range rows {
		if row.Capacity == nil || *row.Capacity <= 0 || row.Occupied == nil {
			continue
		}
		out = append(out, domain.TrainingRow{
			LocationName: row.LocationName,
			Hour:         row.Timestamp.Hour(),
			Weekday:      domain.DayOfWeek(row.Timestamp),
			Capacity:     *row.Capacity,
			Occupied:     *row.Occupied,
		})
	}
	return out
}

// latestArchiveSnapshots keeps the newest archived row with a known
// occupancy per location, ordered by name.
func latestArchiveSnapshots(rows []domain.ArchiveRow) []domain.Snapshot {
	latest := make(map[string]domain.ArchiveRow)
	for _, row := range rows {
		if row.Capacity == nil || row.Occupied == nil {
			continue
		}
		if cur, ok := latest[row.LocationName]; !ok || row.Timestamp.After(cur.Timestamp) {
			latest[row.LocationName] = row
		}
	}
	out := make([]domain.Snapshot, 0, len(latest))
	for _, row := range latest {
		out = append(out, domain.Snapshot{
			LocationName: row.LocationName,
			Timestamp:    row.Timestamp,
			Capacity:     row.Capacity,
			Occupied:     row.Occupied,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationName < out[j].LocationName })
	return out
}
