package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

func (r *repo) InsertPrediction(_ context.Context, p domain.Prediction) (domain.Prediction, error) {
	if _, ok := r.st.locations[p.LocationID]; !ok {
		return domain.Prediction{}, domain.ErrLocationNotFound
	}
	p.ID = r.st.id()
	r.st.write(tablePredictions)
	r.st.prediction[p.ID] = p
	return p, nil
}

func (r *repo) GetPredictionForUpdate(_ context.Context, id int64) (domain.Prediction, error) {
	p, ok := r.st.prediction[id]
	if !ok {
		return domain.Prediction{}, domain.ErrPredictionNotFound
	}
	return p, nil
}

func (r *repo) UpdatePredictionActual(_ context.Context, p domain.Prediction, overwrite bool) error {
	stored, ok := r.st.prediction[p.ID]
	if !ok {
		return domain.ErrPredictionNotFound
	}
	if stored.Reconciled() && !overwrite {
		return domain.ErrAlreadyReconciled
	}
	stored.ActualOccupied = p.ActualOccupied
	stored.ActualOccupancyPct = p.ActualOccupancyPct
	stored.PredictionError = p.PredictionError
	stored.ReconciledAt = p.ReconciledAt
	r.st.write(tablePredictions)
	r.st.prediction[p.ID] = stored
	return nil
}

func (r *repo) cityPredictions(city string) []domain.Prediction {
	var out []domain.Prediction
	for _, p := range r.st.prediction {
		if r.st.locations[p.LocationID].City == city {
			out = append(out, p)
		}
	}
	return out
}

func (r *repo) PendingPredictions(_ context.Context, city string, dueBefore time.Time, limit int) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for _, p := range r.cityPredictions(city) {
		if p.Reconciled() || p.TargetTime.After(dueBefore) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TargetTime.Equal(out[j].TargetTime) {
			return out[i].TargetTime.Before(out[j].TargetTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *repo) RecentPredictions(_ context.Context, city string, since time.Time) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for _, p := range r.cityPredictions(city) {
		if p.PredictedAt.Before(since) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PredictedAt.Equal(out[j].PredictedAt) {
			return out[i].PredictedAt.After(out[j].PredictedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *repo) PredictionAccuracy(_ context.Context, city string, since time.Time) (domain.PredictionAccuracy, error) {
	var (
		acc   domain.PredictionAccuracy
		total float64
	)
	for _, p := range r.cityPredictions(city) {
		if p.PredictedAt.Before(since) {
			continue
		}
		acc.Predictions++
		if p.PredictionError != nil {
			acc.Reconciled++
			total += *p.PredictionError
		}
	}
	if acc.Reconciled > 0 {
		mean := total / float64(acc.Reconciled)
		acc.MeanError = &mean
	}
	return acc, nil
}
