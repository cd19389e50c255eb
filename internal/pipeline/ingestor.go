package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/google/uuid"
)

// ArchiveAppender receives the observations a batch inserted, after commit.
type ArchiveAppender interface {
	Append(city string, rows []domain.ArchiveRow) error
}

// LivePublisher pushes freshly inserted observations to live consumers.
type LivePublisher interface {
	PublishLive(ctx context.Context, city string, obs []domain.ProcessedObservation) error
}

// IngestSummary is the structured report of one ingested batch. It is
// returned even when the batch fails, with the counts known at that point.
type IngestSummary struct {
	RunID string `json:"run_id"`
	City  string `json:"city"`

	Records            int `json:"records"`
	Invalid            int `json:"invalid"`
	LocationsCreated   int `json:"locations_created"`
	LocationsUpdated   int `json:"locations_updated"`
	LocationsUnchanged int `json:"locations_unchanged"`
	RawInserted        int `json:"raw_inserted"`
	RawDuplicates      int `json:"raw_duplicates"`
	ProcessedInserted  int `json:"processed_inserted"`
	ProcessedDupes     int `json:"processed_duplicates"`
	Geocoded           int `json:"geocoded"`

	Duration time.Duration `json:"duration"`
}

// Duplicates is the number of observations skipped because their key existed.
func (s IngestSummary) Duplicates() int {
	return s.RawDuplicates + s.ProcessedDupes
}

// Ingestor merges decoded feed batches into the store. Each batch is one
// transaction: location upserts and observation inserts commit together.
type Ingestor struct {
	store    domain.Store
	geocoder domain.Geocoder
	archive  ArchiveAppender
	live     LivePublisher
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewIngestor creates an Ingestor. geocoder, archive and live may be nil.
func NewIngestor(store domain.Store, geocoder domain.Geocoder, archive ArchiveAppender, live LivePublisher, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		store:    store,
		geocoder: geocoder,
		archive:  archive,
		live:     live,
		logger:   logger,
		metrics:  metrics,
	}
}

type validRecord struct {
	rec domain.SourceRecord
	ts  time.Time
}

// Ingest stores one feed batch. Malformed records are skipped and counted;
// records whose (location, timestamp) key already exists are skipped as
// duplicates. A storage failure rolls back the whole batch.
func (i *Ingestor) Ingest(ctx context.Context, batch domain.FeedBatch) (IngestSummary, error) {
	start := time.Now()
	summary := IngestSummary{
		RunID:   uuid.NewString(),
		City:    batch.City,
		Records: len(batch.Records),
	}
	logger := i.logger.With("run_id", summary.RunID, "city", batch.City)

	valid := make([]validRecord, 0, len(batch.Records))
	for idx, rec := range batch.Records {
		ts, err := domain.ValidateRecord(rec)
		if err != nil {
			summary.Invalid++
			i.metrics.RecordsSkipped.WithLabelValues("invalid").Inc()
			logger.Warn("skipping invalid record", "index", idx, "location", rec.Name, "error", err)
			continue
		}
		valid = append(valid, validRecord{rec: rec, ts: ts})
	}

	if len(valid) > 0 && i.geocoder != nil {
		geocoded, err := i.geocode(ctx, batch.City, valid, logger)
		if err != nil {
			return i.fail(summary, start, err)
		}
		summary.Geocoded = geocoded
	}

	capturedAt := batch.FetchedAt.UTC()
	var inserted []domain.ProcessedObservation

	err := i.store.WithinTx(ctx, func(repo domain.Repository) error {
		// Counts are rebuilt on every attempt so a rolled-back batch reports none.
		counts := summary
		inserted = inserted[:0]

		for _, v := range valid {
			loc, outcome, err := repo.UpsertLocation(ctx, domain.LocationUpsertFromRecord(batch.City, v.rec, capturedAt))
			if err != nil {
				return fmt.Errorf("upsert location %q: %w", v.rec.Name, err)
			}
			switch outcome {
			case domain.UpsertCreated:
				counts.LocationsCreated++
			case domain.UpsertUpdated:
				counts.LocationsUpdated++
			default:
				counts.LocationsUnchanged++
			}

			ok, err := repo.InsertRawObservation(ctx, domain.NewRawObservation(loc, v.rec, v.ts, capturedAt))
			if err != nil {
				return fmt.Errorf("insert raw observation %q: %w", v.rec.Name, err)
			}
			if ok {
				counts.RawInserted++
			} else {
				counts.RawDuplicates++
			}

			processed := domain.DeriveProcessed(loc, v.rec, v.ts, capturedAt)
			ok, err = repo.InsertProcessedObservation(ctx, processed)
			if err != nil {
				return fmt.Errorf("insert processed observation %q: %w", v.rec.Name, err)
			}
			if ok {
				counts.ProcessedInserted++
				inserted = append(inserted, processed)
			} else {
				counts.ProcessedDupes++
			}
		}

		summary = counts
		return nil
	})
	if err != nil {
		return i.fail(summary, start, err)
	}

	summary.Duration = time.Since(start)
	i.recordMetrics(summary)
	logger.Info("batch ingested",
		"records", summary.Records,
		"invalid", summary.Invalid,
		"locations_created", summary.LocationsCreated,
		"locations_updated", summary.LocationsUpdated,
		"processed_inserted", summary.ProcessedInserted,
		"duplicates", summary.Duplicates(),
		"duration", summary.Duration,
	)

	i.afterCommit(ctx, batch.City, inserted, logger)
	return summary, nil
}

// geocode fills in coordinates for records of locations the registry has no
// coordinates for. It runs before the batch transaction so no storage
// connection is held across the external call.
func (i *Ingestor) geocode(ctx context.Context, city string, valid []validRecord, logger *slog.Logger) (int, error) {
	known := make(map[string]bool)
	err := i.store.WithinTx(ctx, func(repo domain.Repository) error {
		locs, err := repo.ListLocations(ctx, city, false)
		if err != nil {
			return err
		}
		for _, l := range locs {
			known[l.Name] = l.Coordinates != nil
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list locations: %w", err)
	}

	geocoded := 0
	for idx := range valid {
		rec, method := domain.EnrichWithGeocoding(ctx, city, valid[idx].rec, known[valid[idx].rec.Name], i.geocoder, logger)
		if method == "forward" {
			geocoded++
			// The same facility may appear again later in the batch.
			known[rec.Name] = true
		}
		valid[idx].rec = rec
	}
	return geocoded, nil
}

func (i *Ingestor) afterCommit(ctx context.Context, city string, inserted []domain.ProcessedObservation, logger *slog.Logger) {
	if len(inserted) == 0 {
		return
	}
	if i.archive != nil {
		rows := make([]domain.ArchiveRow, len(inserted))
		for idx, p := range inserted {
			rows[idx] = domain.ArchiveRowFromProcessed(p)
		}
		if err := i.archive.Append(city, rows); err != nil {
			i.metrics.ArchiveFailures.Inc()
			logger.Error("archive append failed", "rows", len(rows), "error", err)
		}
	}
	if i.live != nil {
		if err := i.live.PublishLive(ctx, city, inserted); err != nil {
			i.metrics.LivePublishFails.Inc()
			logger.Warn("live publish failed", "error", err)
		}
	}
}

func (i *Ingestor) fail(summary IngestSummary, start time.Time, err error) (IngestSummary, error) {
	summary.Duration = time.Since(start)
	i.metrics.IngestFailures.Inc()
	i.logger.Error("batch ingest failed", "run_id", summary.RunID, "city", summary.City, "error", err)
	return summary, fmt.Errorf("ingest %s batch: %w", summary.City, err)
}

func (i *Ingestor) recordMetrics(s IngestSummary) {
	i.metrics.RecordsIngested.WithLabelValues("raw").Add(float64(s.RawInserted))
	i.metrics.RecordsIngested.WithLabelValues("processed").Add(float64(s.ProcessedInserted))
	i.metrics.RecordsSkipped.WithLabelValues("duplicate").Add(float64(s.Duplicates()))
	i.metrics.LocationUpserts.WithLabelValues(string(domain.UpsertCreated)).Add(float64(s.LocationsCreated))
	i.metrics.LocationUpserts.WithLabelValues(string(domain.UpsertUpdated)).Add(float64(s.LocationsUpdated))
	i.metrics.LocationUpserts.WithLabelValues(string(domain.UpsertUnchanged)).Add(float64(s.LocationsUnchanged))
	i.metrics.IngestDuration.Observe(s.Duration.Seconds())
}
