package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
)

// activationLockKey serializes activations across processes sharing the database.
const activationLockKey int64 = 0x7061726b696e67

const modelColumns = `id, version, trained_at, city, sample_count, features, is_synthetic,
	mae, rmse, r2, model_path, active, notes`

func scanModelVersion(row scanner) (domain.ModelVersion, error) {
	var v domain.ModelVersion
	err := row.Scan(&v.ID, &v.Version, &v.TrainedAt, &v.City, &v.SampleCount, &v.Features, &v.IsSynthetic,
		&v.Metrics.MAE, &v.Metrics.RMSE, &v.Metrics.R2, &v.ModelPath, &v.Active, &v.Notes)
	return v, err
}

// InsertModelVersion stores v inactive. Activation is a separate step in the
// same transaction.
func (r *Repository) InsertModelVersion(ctx context.Context, v domain.ModelVersion) (domain.ModelVersion, error) {
	v.Active = false
	err := r.db.QueryRow(ctx,
		`INSERT INTO model_versions (version, trained_at, city, sample_count, features, is_synthetic,
		                             mae, rmse, r2, model_path, active, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11)
		 RETURNING id`,
		v.Version, v.TrainedAt, v.City, v.SampleCount, v.Features, v.IsSynthetic,
		v.Metrics.MAE, v.Metrics.RMSE, v.Metrics.R2, v.ModelPath, v.Notes,
	).Scan(&v.ID)
	if err != nil {
		return domain.ModelVersion{}, storageErr("insert model version", err)
	}
	return v, nil
}

// ActivateModelVersion deactivates every other version, then activates
// version. The partial unique index rejects two active rows, so the order of
// the two updates matters. Concurrent readers see either the old or the new
// active version, never none or both.
func (r *Repository) ActivateModelVersion(ctx context.Context, version string) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, activationLockKey); err != nil {
		return storageErr("lock model activation", err)
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE model_versions SET active = FALSE WHERE active AND version <> $1`, version,
	); err != nil {
		return storageErr("deactivate model versions", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE model_versions SET active = TRUE WHERE version = $1`, version)
	if err != nil {
		return storageErr("activate model version", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activate model version %s: %w", version, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) ActiveModelVersion(ctx context.Context) (domain.ModelVersion, error) {
	v, err := scanModelVersion(r.db.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM model_versions WHERE active`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ModelVersion{}, domain.ErrNoActiveModel
	}
	if err != nil {
		return domain.ModelVersion{}, storageErr("active model version", err)
	}
	return v, nil
}

func (r *Repository) LatestModelVersion(ctx context.Context) (domain.ModelVersion, error) {
	v, err := scanModelVersion(r.db.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM model_versions ORDER BY version DESC LIMIT 1`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ModelVersion{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ModelVersion{}, storageErr("latest model version", err)
	}
	return v, nil
}

func (r *Repository) ListModelVersions(ctx context.Context, activeOnly bool) ([]domain.ModelVersion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+modelColumns+` FROM model_versions
		 WHERE active OR NOT $1
		 ORDER BY version DESC`,
		activeOnly,
	)
	if err != nil {
		return nil, storageErr("list model versions", err)
	}
	defer rows.Close()

	var out []domain.ModelVersion
	for rows.Next() {
		v, err := scanModelVersion(rows)
		if err != nil {
			return nil, storageErr("scan model version", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list model versions", err)
	}
	return out, nil
}
