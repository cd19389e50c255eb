// Package tracking records predictions and reconciles them against the
// occupancy that was later observed.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
)

// DefaultReconcileLimit bounds the predictions handled by one ReconcileDue call.
const DefaultReconcileLimit = 500

// Tracker persists predictions and their actual values.
type Tracker struct {
	store   domain.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Tracker.
func New(store domain.Store, logger *slog.Logger, metrics *observability.Metrics) *Tracker {
	return &Tracker{store: store, logger: logger, metrics: metrics}
}

// RecordPrediction stores p. PredictedOccupied is expected to be clamped to
// [0, capacity] already and is stored as given. The percentage is derived
// from the capacity snapshot and left nil when capacity is not positive.
func (t *Tracker) RecordPrediction(ctx context.Context, p domain.Prediction) (domain.Prediction, error) {
	if p.PredictedAt.IsZero() {
		p.PredictedAt = domain.Now().UTC()
	}
	predicted := p.PredictedOccupied
	p.PredictedOccupancyPct = domain.OccupancyPct(&predicted, p.Capacity)
	p.ActualOccupied, p.ActualOccupancyPct, p.PredictionError, p.ReconciledAt = nil, nil, nil, nil

	var stored domain.Prediction
	err := t.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		stored, err = repo.InsertPrediction(ctx, p)
		return err
	})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("record prediction: %w", err)
	}
	t.metrics.PredictionsRecorded.Inc()
	return stored, nil
}

// ReconcileActual attaches the observed occupancy to a prediction. A
// prediction is reconciled once; a second call returns ErrAlreadyReconciled.
func (t *Tracker) ReconcileActual(ctx context.Context, id int64, actual int) (domain.Prediction, error) {
	return t.reconcile(ctx, id, actual, false)
}

// OverwriteActual replaces the actual value of a prediction whether or not
// it was reconciled before.
func (t *Tracker) OverwriteActual(ctx context.Context, id int64, actual int) (domain.Prediction, error) {
	return t.reconcile(ctx, id, actual, true)
}

func (t *Tracker) reconcile(ctx context.Context, id int64, actual int, overwrite bool) (domain.Prediction, error) {
	var updated domain.Prediction
	err := t.store.WithinTx(ctx, func(repo domain.Repository) error {
		p, err := repo.GetPredictionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Reconciled() && !overwrite {
			return domain.ErrAlreadyReconciled
		}
		updated = p.WithActual(actual, domain.Now().UTC())
		return repo.UpdatePredictionActual(ctx, updated, overwrite)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPredictionNotFound) {
			t.metrics.PredictionsReconciled.WithLabelValues("not_found").Inc()
		}
		return domain.Prediction{}, fmt.Errorf("reconcile prediction %d: %w", id, err)
	}
	t.metrics.PredictionsReconciled.WithLabelValues("reconciled").Inc()
	return updated, nil
}

// ReconcileSummary reports one ReconcileDue pass.
type ReconcileSummary struct {
	City          string `json:"city"`
	Due           int    `json:"due"`
	Reconciled    int    `json:"reconciled"`
	NoObservation int    `json:"no_observation"`
}

// ReconcileDue backfills unreconciled predictions whose target time is not
// after now, using the processed observation nearest to the target within
// tolerance. Predictions without such an observation stay pending.
func (t *Tracker) ReconcileDue(ctx context.Context, city string, now time.Time, tolerance time.Duration) (ReconcileSummary, error) {
	summary := ReconcileSummary{City: city}
	reconciledAt := domain.Now().UTC()

	err := t.store.WithinTx(ctx, func(repo domain.Repository) error {
		counts := ReconcileSummary{City: city}
		pending, err := repo.PendingPredictions(ctx, city, now, DefaultReconcileLimit)
		if err != nil {
			return err
		}
		counts.Due = len(pending)

		for _, p := range pending {
			obs, err := repo.NearestObservation(ctx, p.LocationID, p.TargetTime, tolerance)
			if errors.Is(err, domain.ErrNotFound) || (err == nil && obs.Occupied == nil) {
				counts.NoObservation++
				continue
			}
			if err != nil {
				return fmt.Errorf("nearest observation for prediction %d: %w", p.ID, err)
			}
			err = repo.UpdatePredictionActual(ctx, p.WithActual(*obs.Occupied, reconciledAt), false)
			if errors.Is(err, domain.ErrAlreadyReconciled) {
				continue
			}
			if err != nil {
				return fmt.Errorf("update prediction %d: %w", p.ID, err)
			}
			counts.Reconciled++
		}
		summary = counts
		return nil
	})
	if err != nil {
		t.metrics.PredictionsReconciled.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("reconcile due predictions for %s: %w", city, err)
	}

	t.metrics.PredictionsReconciled.WithLabelValues("reconciled").Add(float64(summary.Reconciled))
	t.metrics.PredictionsReconciled.WithLabelValues("no_observation").Add(float64(summary.NoObservation))
	if summary.Due > 0 {
		t.logger.Info("predictions reconciled",
			"city", city,
			"due", summary.Due,
			"reconciled", summary.Reconciled,
			"no_observation", summary.NoObservation,
		)
	}
	return summary, nil
}

// RecentPredictions lists the predictions made for city since the given time,
// newest first.
func (t *Tracker) RecentPredictions(ctx context.Context, city string, since time.Time) ([]domain.Prediction, error) {
	var out []domain.Prediction
	err := t.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		out, err = repo.RecentPredictions(ctx, city, since)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("recent predictions: %w", err)
	}
	return out, nil
}

// Accuracy aggregates the predictions made for city since the given time.
func (t *Tracker) Accuracy(ctx context.Context, city string, since time.Time) (domain.PredictionAccuracy, error) {
	var acc domain.PredictionAccuracy
	err := t.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		acc, err = repo.PredictionAccuracy(ctx, city, since)
		return err
	})
	if err != nil {
		return domain.PredictionAccuracy{}, fmt.Errorf("prediction accuracy: %w", err)
	}
	return acc, nil
}
