package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/google/uuid"
)

// versionLayout sorts lexicographically in creation order.
const versionLayout = "v20060102T150405.000000000Z"

// ModelPublisher announces a newly activated model version.
type ModelPublisher interface {
	PublishModelVersion(ctx context.Context, v domain.ModelVersion) error
}

// Report is the structured summary of one training run.
type Report struct {
	RunID        string         `json:"run_id"`
	City         string         `json:"city"`
	Version      string         `json:"version"`
	Tier         Tier           `json:"tier"`
	IsSynthetic  bool           `json:"is_synthetic"`
	Samples      int            `json:"samples"`
	TrainSamples int            `json:"train_samples"`
	EvalSamples  int            `json:"eval_samples"`
	Metrics      domain.Metrics `json:"metrics"`
	ModelPath    string         `json:"model_path"`
	Duration     time.Duration  `json:"duration"`
}

// Trainer fits and registers occupancy models.
type Trainer struct {
	store     domain.Store
	resolver  *Resolver
	models    *ModelStore
	publisher ModelPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewTrainer creates a Trainer. publisher may be nil.
func NewTrainer(store domain.Store, resolver *Resolver, models *ModelStore, publisher ModelPublisher, logger *slog.Logger, metrics *observability.Metrics) *Trainer {
	return &Trainer{
		store:     store,
		resolver:  resolver,
		models:    models,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Train resolves a dataset for city, fits a model and makes it the single
// active version. On failure the previously active version stays active and
// no model file is left behind.
func (t *Trainer) Train(ctx context.Context, city string) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString(), City: city}
	logger := t.logger.With("run_id", report.RunID, "city", city)

	ds, err := t.resolver.Resolve(ctx, city)
	if err != nil {
		return t.fail(report, "none", err, logger)
	}
	report.Tier = ds.Tier
	report.IsSynthetic = ds.IsSynthetic
	report.Samples = len(ds.Rows)

	fit, err := FitModel(ds.Rows)
	if err != nil {
		return t.fail(report, ds.Tier, fmt.Errorf("fit model: %w", err), logger)
	}
	report.TrainSamples = fit.TrainSamples
	report.EvalSamples = fit.EvalSamples
	report.Metrics = fit.Metrics

	trainedAt := domain.Now().UTC()
	var registered domain.ModelVersion
	var modelPath string

	err = t.store.WithinTx(ctx, func(repo domain.Repository) error {
		latest, err := repo.LatestModelVersion(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("latest model version: %w", err)
		}
		version, err := NextVersion(trainedAt, latest.Version)
		if err != nil {
			return err
		}

		model := fit.Model
		model.Version = version
		modelPath, err = t.models.Save(model)
		if err != nil {
			return fmt.Errorf("save model: %w", err)
		}

		registered, err = repo.InsertModelVersion(ctx, domain.ModelVersion{
			Version:     version,
			TrainedAt:   trainedAt,
			City:        city,
			SampleCount: len(ds.Rows),
			Features:    append([]string(nil), domain.Features...),
			IsSynthetic: ds.IsSynthetic,
			Metrics:     fit.Metrics,
			ModelPath:   modelPath,
			Notes:       fmt.Sprintf("tier=%s run=%s", ds.Tier, report.RunID),
		})
		if err != nil {
			return fmt.Errorf("insert model version: %w", err)
		}
		if err := repo.ActivateModelVersion(ctx, version); err != nil {
			return fmt.Errorf("activate model version: %w", err)
		}
		registered.Active = true
		return nil
	})
	if err != nil {
		if modelPath != "" {
			if rmErr := t.models.Remove(modelPath); rmErr != nil {
				logger.Warn("remove orphaned model file failed", "path", modelPath, "error", rmErr)
			}
		}
		return t.fail(report, ds.Tier, err, logger)
	}

	report.Version = registered.Version
	report.ModelPath = modelPath
	report.Duration = time.Since(start)

	t.metrics.TrainingRuns.WithLabelValues("success", string(ds.Tier)).Inc()
	t.metrics.ActiveModelMAE.Set(fit.Metrics.MAE)
	logger.Info("model version activated",
		"version", report.Version,
		"tier", report.Tier,
		"synthetic", report.IsSynthetic,
		"samples", report.Samples,
		"mae", report.Metrics.MAE,
		"rmse", report.Metrics.RMSE,
		"r2", report.Metrics.R2,
	)

	if t.publisher != nil {
		if err := t.publisher.PublishModelVersion(ctx, registered); err != nil {
			logger.Warn("publish model version failed", "version", registered.Version, "error", err)
		}
	}
	return report, nil
}

func (t *Trainer) fail(report Report, tier Tier, err error, logger *slog.Logger) (Report, error) {
	t.metrics.TrainingRuns.WithLabelValues("error", string(tier)).Inc()
	logger.Error("training run failed", "tier", tier, "error", err)
	return report, fmt.Errorf("train %s: %w", report.City, err)
}

// NextVersion formats trainedAt as a version identifier that is strictly
// greater than latest. When the clock has not moved past latest the version
// is latest plus one nanosecond.
func NextVersion(trainedAt time.Time, latest string) (string, error) {
	version := trainedAt.UTC().Format(versionLayout)
	if latest == "" || version > latest {
		return version, nil
	}
	prev, err := time.Parse(versionLayout, latest)
	if err != nil {
		return "", fmt.Errorf("parse latest version %q: %w", latest, err)
	}
	return prev.Add(time.Nanosecond).UTC().Format(versionLayout), nil
}
