package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

// PredictionRecorder stores a clamped prediction.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, p domain.Prediction) (domain.Prediction, error)
}

// Forecaster serves forecasts from the active model version.
type Forecaster struct {
	store    domain.Store
	models   *ModelStore
	recorder PredictionRecorder
	zone     *time.Location

	mu     sync.Mutex
	cached *Model
}

// NewForecaster creates a Forecaster recording its forecasts with recorder.
// Hour and weekday features are read in zone, the zone the feed reports its
// timestamps in. A nil zone uses the target's own offset.
func NewForecaster(store domain.Store, models *ModelStore, recorder PredictionRecorder, zone *time.Location) *Forecaster {
	return &Forecaster{store: store, models: models, recorder: recorder, zone: zone}
}

// Predict forecasts the occupancy of a location at target, clamps it to
// [0, capacity] and records it. The location must have a known capacity.
func (f *Forecaster) Predict(ctx context.Context, city, name string, target time.Time) (domain.Prediction, error) {
	var (
		loc    domain.Location
		active domain.ModelVersion
	)
	err := f.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		if loc, err = repo.GetLocation(ctx, city, name); err != nil {
			return err
		}
		active, err = repo.ActiveModelVersion(ctx)
		return err
	})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predict %s/%s: %w", city, name, err)
	}
	if loc.Capacity == nil {
		return domain.Prediction{}, &domain.ValidationError{Field: "capacity", Reason: "unknown for " + name}
	}

	model, err := f.model(active)
	if err != nil {
		return domain.Prediction{}, err
	}

	local := target
	if f.zone != nil {
		local = target.In(f.zone)
	}
	raw := model.Predict(local.Hour(), domain.DayOfWeek(local), *loc.Capacity)
	mae := active.Metrics.MAE
	return f.recorder.RecordPrediction(ctx, domain.Prediction{
		LocationID:        loc.ID,
		TargetTime:        target,
		PredictedOccupied: domain.ClampPrediction(raw, loc.Capacity),
		Capacity:          loc.Capacity,
		ModelVersion:      active.Version,
		ModelError:        &mae,
	})
}

func (f *Forecaster) model(v domain.ModelVersion) (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil && f.cached.Version == v.Version {
		return *f.cached, nil
	}
	m, err := f.models.Load(v.ModelPath)
	if err != nil {
		return Model{}, err
	}
	m.Version = v.Version
	f.cached = &m
	return m, nil
}
