package domain

import "time"

// Features is the fixed feature list of the occupancy model.
var Features = []string{"hour", "weekday", "capacity"}

// TrainingRow is one labelled sample: features plus the occupied target.
type TrainingRow struct {
	LocationName string `json:"location_name"`
	Hour         int    `json:"hour"`
	Weekday      int    `json:"weekday"`
	Capacity     int    `json:"capacity"`
	Occupied     int    `json:"occupied"`
}

// Snapshot is the most recent known occupancy of a location.
type Snapshot struct {
	LocationName string    `json:"location_name"`
	Timestamp    time.Time `json:"timestamp"`
	Capacity     *int      `json:"capacity,omitempty"`
	Occupied     *int      `json:"occupied,omitempty"`
}

// ArchiveRow is a processed observation as kept in the flat historical archive.
type ArchiveRow struct {
	LocationName string    `json:"location_name"`
	Timestamp    time.Time `json:"timestamp"`
	Capacity     *int      `json:"capacity,omitempty"`
	Occupied     *int      `json:"occupied,omitempty"`
	Status       string    `json:"status,omitempty"`
}

// ArchiveRowFromProcessed projects a stored observation onto the archive shape.
func ArchiveRowFromProcessed(p ProcessedObservation) ArchiveRow {
	return ArchiveRow{
		LocationName: p.LocationName,
		Timestamp:    p.Timestamp,
		Capacity:     p.Capacity,
		Occupied:     p.Occupied,
		Status:       p.Status,
	}
}

// Metrics are the held-out evaluation metrics of a fitted model.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// ModelVersion is one trained-and-persisted model and its activation state.
type ModelVersion struct {
	ID          int64     `json:"id"`
	Version     string    `json:"version"`
	TrainedAt   time.Time `json:"trained_at"`
	City        string    `json:"city"`
	SampleCount int       `json:"sample_count"`
	Features    []string  `json:"features"`
	IsSynthetic bool      `json:"is_synthetic"`
	Metrics     Metrics   `json:"metrics"`
	ModelPath   string    `json:"model_path"`
	Active      bool      `json:"active"`
	Notes       string    `json:"notes,omitempty"`
}
