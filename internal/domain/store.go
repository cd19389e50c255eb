package domain

import (
	"context"
	"time"
)

// Store is the storage handle. Every unit of work runs inside WithinTx: fn's
// writes are committed together when it returns nil and rolled back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
	Close()
}

// Repository exposes the operations available inside a transaction.
// Uniqueness of (city, name), (location, source timestamp) and
// (location, timestamp), and the single active model version, are enforced by
// the implementation.
type Repository interface {
	LocationRepository
	ObservationRepository
	ModelVersionRepository
	PredictionRepository
}

// LocationRepository manages the location registry.
type LocationRepository interface {
	UpsertLocation(ctx context.Context, u LocationUpsert) (Location, UpsertOutcome, error)
	GetLocation(ctx context.Context, city, name string) (Location, error)
	GetLocationByID(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context, city string, activeOnly bool) ([]Location, error)
	DeactivateLocation(ctx context.Context, city, name string, at time.Time) error
}

// ObservationRepository manages raw and processed observations.
type ObservationRepository interface {
	// InsertRawObservation reports false when (location, source timestamp) exists.
	InsertRawObservation(ctx context.Context, o RawObservation) (bool, error)
	// InsertProcessedObservation reports false when (location, timestamp) exists.
	InsertProcessedObservation(ctx context.Context, o ProcessedObservation) (bool, error)
	TrainingRows(ctx context.Context, city string) ([]TrainingRow, error)
	LatestSnapshots(ctx context.Context, city string) ([]Snapshot, error)
	LatestObservations(ctx context.Context, city string) ([]ProcessedObservation, error)
	NearestObservation(ctx context.Context, locationID int64, target time.Time, tolerance time.Duration) (ProcessedObservation, error)
	HistoricalStats(ctx context.Context, city string) (HistoricalStats, error)
}

// ModelVersionRepository is the model version registry.
type ModelVersionRepository interface {
	InsertModelVersion(ctx context.Context, v ModelVersion) (ModelVersion, error)
	// ActivateModelVersion deactivates every other version and activates
	// version. Callers run it in the same transaction as the insert.
	ActivateModelVersion(ctx context.Context, version string) error
	ActiveModelVersion(ctx context.Context) (ModelVersion, error)
	LatestModelVersion(ctx context.Context) (ModelVersion, error)
	ListModelVersions(ctx context.Context, activeOnly bool) ([]ModelVersion, error)
}

// PredictionRepository persists predictions and their reconciliation.
type PredictionRepository interface {
	InsertPrediction(ctx context.Context, p Prediction) (Prediction, error)
	// GetPredictionForUpdate locks the row for the rest of the transaction.
	GetPredictionForUpdate(ctx context.Context, id int64) (Prediction, error)
	// UpdatePredictionActual stores the actual values of p. Unless overwrite
	// is set, a prediction that is already reconciled is left untouched and
	// ErrAlreadyReconciled is returned.
	UpdatePredictionActual(ctx context.Context, p Prediction, overwrite bool) error
	// PendingPredictions locks the returned rows for the rest of the
	// transaction. Rows locked by another transaction are skipped.
	PendingPredictions(ctx context.Context, city string, dueBefore time.Time, limit int) ([]Prediction, error)
	RecentPredictions(ctx context.Context, city string, since time.Time) ([]Prediction, error)
	PredictionAccuracy(ctx context.Context, city string, since time.Time) (PredictionAccuracy, error)
}
