package domain

import (
	"math"
	"time"
)

// Prediction is a forecast of a location's occupancy at TargetTime. The actual
// fields stay nil until the prediction is reconciled.
type Prediction struct {
	ID                    int64      `json:"id"`
	LocationID            int64      `json:"location_id"`
	PredictedAt           time.Time  `json:"predicted_at"`
	TargetTime            time.Time  `json:"target_time"`
	PredictedOccupied     int        `json:"predicted_occupied"`
	PredictedOccupancyPct *float64   `json:"predicted_occupancy_pct,omitempty"`
	Capacity              *int       `json:"capacity,omitempty"`
	ModelVersion          string     `json:"model_version"`
	ModelError            *float64   `json:"model_error,omitempty"`
	ActualOccupied        *int       `json:"actual_occupied,omitempty"`
	ActualOccupancyPct    *float64   `json:"actual_occupancy_pct,omitempty"`
	PredictionError       *float64   `json:"prediction_error,omitempty"`
	ReconciledAt          *time.Time `json:"reconciled_at,omitempty"`
}

// Reconciled reports whether an actual value has been attached.
func (p Prediction) Reconciled() bool {
	return p.ActualOccupied != nil
}

// WithActual returns the prediction with the actual value and point error
// filled in. The percentage uses the capacity recorded with the prediction.
func (p Prediction) WithActual(actual int, at time.Time) Prediction {
	a := actual
	p.ActualOccupied = &a
	p.ActualOccupancyPct = OccupancyPct(&a, p.Capacity)
	e := math.Abs(float64(p.PredictedOccupied - actual))
	p.PredictionError = &e
	p.ReconciledAt = &at
	return p
}

// PredictionAccuracy aggregates reconciled predictions.
type PredictionAccuracy struct {
	Predictions int      `json:"predictions"`
	Reconciled  int      `json:"reconciled"`
	MeanError   *float64 `json:"mean_error,omitempty"`
}

// ClampPrediction rounds a raw model output down and bounds it to
// [0, capacity]. A nil capacity only bounds below.
func ClampPrediction(raw float64, capacity *int) int {
	if math.IsNaN(raw) || raw < 0 {
		return 0
	}
	if capacity != nil && *capacity >= 0 && raw > float64(*capacity) {
		return *capacity
	}
	if raw > math.MaxInt32 {
		return math.MaxInt32
	}
	v := int(math.Floor(raw))
	if capacity != nil && *capacity >= 0 && v > *capacity {
		return *capacity
	}
	return v
}
