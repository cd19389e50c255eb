package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
)

const predictionColumns = `pr.id, pr.location_id, pr.predicted_at, pr.target_time, pr.predicted_occupied,
	pr.predicted_occupancy_pct, pr.capacity, pr.model_version, pr.model_error, pr.actual_occupied,
	pr.actual_occupancy_pct, pr.prediction_error, pr.reconciled_at`

func scanPrediction(row scanner) (domain.Prediction, error) {
	var p domain.Prediction
	err := row.Scan(&p.ID, &p.LocationID, &p.PredictedAt, &p.TargetTime, &p.PredictedOccupied,
		&p.PredictedOccupancyPct, &p.Capacity, &p.ModelVersion, &p.ModelError, &p.ActualOccupied,
		&p.ActualOccupancyPct, &p.PredictionError, &p.ReconciledAt)
	return p, err
}

func (r *Repository) InsertPrediction(ctx context.Context, p domain.Prediction) (domain.Prediction, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO predictions (location_id, predicted_at, target_time, predicted_occupied,
		                          predicted_occupancy_pct, capacity, model_version, model_error)
		 SELECT l.id, $2, $3, $4, $5, $6, $7, $8 FROM locations l WHERE l.id = $1
		 RETURNING id`,
		p.LocationID, p.PredictedAt, p.TargetTime, p.PredictedOccupied,
		p.PredictedOccupancyPct, p.Capacity, p.ModelVersion, p.ModelError,
	).Scan(&p.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrLocationNotFound
	}
	if err != nil {
		return domain.Prediction{}, storageErr("insert prediction", err)
	}
	return p, nil
}

func (r *Repository) GetPredictionForUpdate(ctx context.Context, id int64) (domain.Prediction, error) {
	p, err := scanPrediction(r.db.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions pr WHERE pr.id = $1 FOR UPDATE`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrPredictionNotFound
	}
	if err != nil {
		return domain.Prediction{}, storageErr("get prediction", err)
	}
	return p, nil
}

func (r *Repository) UpdatePredictionActual(ctx context.Context, p domain.Prediction, overwrite bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE predictions
		 SET actual_occupied = $2, actual_occupancy_pct = $3, prediction_error = $4, reconciled_at = $5
		 WHERE id = $1 AND ($6 OR actual_occupied IS NULL)`,
		p.ID, p.ActualOccupied, p.ActualOccupancyPct, p.PredictionError, p.ReconciledAt, overwrite,
	)
	if err != nil {
		return storageErr("update prediction", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if overwrite {
		return domain.ErrPredictionNotFound
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM predictions WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return storageErr("update prediction", err)
	}
	if exists {
		return domain.ErrAlreadyReconciled
	}
	return domain.ErrPredictionNotFound
}

// PendingPredictions returns unreconciled predictions whose target time is at
// or before dueBefore, oldest first. A limit <= 0 returns all of them. The
// rows stay locked until the transaction ends; rows another reconcile pass
// holds are skipped.
func (r *Repository) PendingPredictions(ctx context.Context, city string, dueBefore time.Time, limit int) ([]domain.Prediction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+predictionColumns+`
		 FROM predictions pr
		 JOIN locations l ON l.id = pr.location_id
		 WHERE l.city = $1 AND pr.actual_occupied IS NULL AND pr.target_time <= $2
		 ORDER BY pr.target_time, pr.id
		 LIMIT $3
		 FOR UPDATE OF pr SKIP LOCKED`,
		city, dueBefore, lim,
	)
	if err != nil {
		return nil, storageErr("pending predictions", err)
	}
	return collectPredictions(rows)
}

func (r *Repository) RecentPredictions(ctx context.Context, city string, since time.Time) ([]domain.Prediction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+predictionColumns+`
		 FROM predictions pr
		 JOIN locations l ON l.id = pr.location_id
		 WHERE l.city = $1 AND pr.predicted_at >= $2
		 ORDER BY pr.predicted_at DESC, pr.id DESC`,
		city, since,
	)
	if err != nil {
		return nil, storageErr("recent predictions", err)
	}
	return collectPredictions(rows)
}

func (r *Repository) PredictionAccuracy(ctx context.Context, city string, since time.Time) (domain.PredictionAccuracy, error) {
	var acc domain.PredictionAccuracy
	err := r.db.QueryRow(ctx,
		`SELECT count(*), count(pr.prediction_error), avg(pr.prediction_error)
		 FROM predictions pr
		 JOIN locations l ON l.id = pr.location_id
		 WHERE l.city = $1 AND pr.predicted_at >= $2`,
		city, since,
	).Scan(&acc.Predictions, &acc.Reconciled, &acc.MeanError)
	if err != nil {
		return domain.PredictionAccuracy{}, storageErr("prediction accuracy", err)
	}
	return acc, nil
}

func collectPredictions(rows pgx.Rows) ([]domain.Prediction, error) {
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, storageErr("scan prediction", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("predictions", err)
	}
	return out, nil
}
