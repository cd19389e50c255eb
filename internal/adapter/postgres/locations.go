package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
)

const locationColumns = `id, city, name, address, lot_type, capacity, latitude, longitude,
	url, external_id, active, created_at, updated_at`

func scanLocation(row scanner) (domain.Location, error) {
	var (
		loc      domain.Location
		lat, lon *float64
	)
	err := row.Scan(&loc.ID, &loc.City, &loc.Name, &loc.Address, &loc.LotType, &loc.Capacity,
		&lat, &lon, &loc.URL, &loc.ExternalID, &loc.Active, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return domain.Location{}, err
	}
	if lat != nil && lon != nil {
		loc.Coordinates = &domain.Geo{Lat: *lat, Lon: *lon}
	}
	return loc, nil
}

func coordinates(g *domain.Geo) (lat, lon *float64) {
	if g == nil {
		return nil, nil
	}
	return &g.Lat, &g.Lon
}

// UpsertLocation locks the existing row, merges the sighting in Go and writes
// back only when something changed. A missing row is inserted; if a
// concurrent transaction wins the insert the sighting is merged into its row.
func (r *Repository) UpsertLocation(ctx context.Context, u domain.LocationUpsert) (domain.Location, domain.UpsertOutcome, error) {
	existing, err := r.lockLocation(ctx, u.City, u.Name)
	if errors.Is(err, domain.ErrLocationNotFound) {
		created, insErr := r.insertLocation(ctx, domain.NewLocation(u))
		if insErr == nil {
			return created, domain.UpsertCreated, nil
		}
		if !errors.Is(insErr, pgx.ErrNoRows) {
			return domain.Location{}, "", insErr
		}
		existing, err = r.lockLocation(ctx, u.City, u.Name)
	}
	if err != nil {
		return domain.Location{}, "", err
	}

	merged, changed := domain.MergeLocation(existing, u)
	if !changed {
		return merged, domain.UpsertUnchanged, nil
	}

	lat, lon := coordinates(merged.Coordinates)
	_, err = r.db.Exec(ctx,
		`UPDATE locations
		 SET address = $2, lot_type = $3, capacity = $4, latitude = $5, longitude = $6,
		     url = $7, external_id = $8, updated_at = $9
		 WHERE id = $1`,
		merged.ID, merged.Address, merged.LotType, merged.Capacity, lat, lon,
		merged.URL, merged.ExternalID, merged.UpdatedAt,
	)
	if err != nil {
		return domain.Location{}, "", storageErr("update location", err)
	}
	return merged, domain.UpsertUpdated, nil
}

func (r *Repository) lockLocation(ctx context.Context, city, name string) (domain.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE city = $1 AND name = $2 FOR UPDATE`,
		city, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, domain.ErrLocationNotFound
	}
	if err != nil {
		return domain.Location{}, storageErr("lock location", err)
	}
	return loc, nil
}

// insertLocation returns pgx.ErrNoRows when (city, name) already exists.
func (r *Repository) insertLocation(ctx context.Context, loc domain.Location) (domain.Location, error) {
	lat, lon := coordinates(loc.Coordinates)
	err := r.db.QueryRow(ctx,
		`INSERT INTO locations (city, name, address, lot_type, capacity, latitude, longitude,
		                        url, external_id, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (city, name) DO NOTHING
		 RETURNING id`,
		loc.City, loc.Name, loc.Address, loc.LotType, loc.Capacity, lat, lon,
		loc.URL, loc.ExternalID, loc.Active, loc.CreatedAt, loc.UpdatedAt,
	).Scan(&loc.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, err
	}
	if err != nil {
		return domain.Location{}, storageErr("insert location", err)
	}
	return loc, nil
}

func (r *Repository) GetLocation(ctx context.Context, city, name string) (domain.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE city = $1 AND name = $2`,
		city, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, domain.ErrLocationNotFound
	}
	if err != nil {
		return domain.Location{}, storageErr("get location", err)
	}
	return loc, nil
}

func (r *Repository) GetLocationByID(ctx context.Context, id int64) (domain.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, domain.ErrLocationNotFound
	}
	if err != nil {
		return domain.Location{}, storageErr("get location", err)
	}
	return loc, nil
}

func (r *Repository) ListLocations(ctx context.Context, city string, activeOnly bool) ([]domain.Location, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+locationColumns+` FROM locations
		 WHERE city = $1 AND (active OR NOT $2)
		 ORDER BY name`,
		city, activeOnly,
	)
	if err != nil {
		return nil, storageErr("list locations", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, storageErr("scan location", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list locations", err)
	}
	return out, nil
}

// DeactivateLocation marks the location inactive. Deactivating an inactive
// location is a no-op.
func (r *Repository) DeactivateLocation(ctx context.Context, city, name string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE locations
		 SET updated_at = CASE WHEN active THEN GREATEST(updated_at, $3) ELSE updated_at END,
		     active = FALSE
		 WHERE city = $1 AND name = $2`,
		city, name, at,
	)
	if err != nil {
		return storageErr("deactivate location", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLocationNotFound
	}
	return nil
}
