package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
)

const processedColumns = `p.id, p.location_id, p.city, l.name, p.timestamp, p.hour, p.day_of_week,
	p.is_weekend, p.capacity, p.free_spaces, p.occupied, p.occupancy_pct, p.status, p.is_open, p.captured_at`

func scanProcessed(row scanner) (domain.ProcessedObservation, error) {
	var p domain.ProcessedObservation
	err := row.Scan(&p.ID, &p.LocationID, &p.City, &p.LocationName, &p.Timestamp, &p.Hour, &p.DayOfWeek,
		&p.IsWeekend, &p.Capacity, &p.FreeSpaces, &p.Occupied, &p.OccupancyPct, &p.Status, &p.IsOpen, &p.CapturedAt)
	return p, err
}

// InsertRawObservation relies on the (location_id, source_timestamp) unique
// constraint; a conflicting row is left untouched.
func (r *Repository) InsertRawObservation(ctx context.Context, o domain.RawObservation) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO raw_observations (location_id, city, source_timestamp, captured_at, payload,
		                               free_spaces, total_spaces, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (location_id, source_timestamp) DO NOTHING`,
		o.LocationID, o.City, o.SourceTimestamp, o.CapturedAt, []byte(o.Payload),
		o.FreeSpaces, o.TotalSpaces, o.Status,
	)
	if err != nil {
		return false, storageErr("insert raw observation", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertProcessedObservation relies on the (location_id, timestamp) unique
// constraint; a conflicting row is left untouched.
func (r *Repository) InsertProcessedObservation(ctx context.Context, o domain.ProcessedObservation) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_observations (location_id, city, timestamp, hour, day_of_week, is_weekend,
		                                     capacity, free_spaces, occupied, occupancy_pct, status,
		                                     is_open, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (location_id, timestamp) DO NOTHING`,
		o.LocationID, o.City, o.Timestamp, o.Hour, o.DayOfWeek, o.IsWeekend,
		o.Capacity, o.FreeSpaces, o.Occupied, o.OccupancyPct, o.Status,
		o.IsOpen, o.CapturedAt,
	)
	if err != nil {
		return false, storageErr("insert processed observation", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) TrainingRows(ctx context.Context, city string) ([]domain.TrainingRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT l.name, p.hour, p.day_of_week, p.capacity, p.occupied
		 FROM processed_observations p
		 JOIN locations l ON l.id = p.location_id
		 WHERE p.city = $1 AND p.occupied IS NOT NULL AND p.capacity > 0
		 ORDER BY p.timestamp, l.name`,
		city,
	)
	if err != nil {
		return nil, storageErr("training rows", err)
	}
	defer rows.Close()

	var out []domain.TrainingRow
	for rows.Next() {
		var tr domain.TrainingRow
		if err := rows.Scan(&tr.LocationName, &tr.Hour, &tr.Weekday, &tr.Capacity, &tr.Occupied); err != nil {
			return nil, storageErr("scan training row", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("training rows", err)
	}
	return out, nil
}

// LatestSnapshots returns the newest observation of every location in the
// city that has a known occupied count and a positive capacity. The registry
// capacity fills in when the observation has none.
func (r *Repository) LatestSnapshots(ctx context.Context, city string) ([]domain.Snapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, timestamp, capacity, occupied FROM (
		     SELECT DISTINCT ON (p.location_id)
		            l.name, p.timestamp, COALESCE(p.capacity, l.capacity) AS capacity, p.occupied
		     FROM processed_observations p
		     JOIN locations l ON l.id = p.location_id
		     WHERE p.city = $1
		       AND p.occupied IS NOT NULL
		       AND COALESCE(p.capacity, l.capacity) > 0
		     ORDER BY p.location_id, p.timestamp DESC
		 ) latest
		 ORDER BY name`,
		city,
	)
	if err != nil {
		return nil, storageErr("latest snapshots", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		if err := rows.Scan(&s.LocationName, &s.Timestamp, &s.Capacity, &s.Occupied); err != nil {
			return nil, storageErr("scan snapshot", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("latest snapshots", err)
	}
	return out, nil
}

func (r *Repository) LatestObservations(ctx context.Context, city string) ([]domain.ProcessedObservation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (l.name) `+processedColumns+`
		 FROM processed_observations p
		 JOIN locations l ON l.id = p.location_id
		 WHERE p.city = $1
		 ORDER BY l.name, p.timestamp DESC`,
		city,
	)
	if err != nil {
		return nil, storageErr("latest observations", err)
	}
	return collectProcessed(rows)
}

// NearestObservation returns the observation with a known occupied count
// closest to target, within tolerance on either side. Ties go to the earlier one.
func (r *Repository) NearestObservation(ctx context.Context, locationID int64, target time.Time, tolerance time.Duration) (domain.ProcessedObservation, error) {
	p, err := scanProcessed(r.db.QueryRow(ctx,
		`SELECT `+processedColumns+`
		 FROM processed_observations p
		 JOIN locations l ON l.id = p.location_id
		 WHERE p.location_id = $1 AND p.occupied IS NOT NULL
		   AND p.timestamp BETWEEN $2 AND $3
		 ORDER BY abs(extract(epoch FROM p.timestamp - $4::timestamptz)), p.timestamp
		 LIMIT 1`,
		locationID, target.Add(-tolerance), target.Add(tolerance), target,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProcessedObservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ProcessedObservation{}, storageErr("nearest observation", err)
	}
	return p, nil
}

func (r *Repository) HistoricalStats(ctx context.Context, city string) (domain.HistoricalStats, error) {
	var s domain.HistoricalStats
	err := r.db.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT location_id), count(DISTINCT timestamp), min(timestamp), max(timestamp)
		 FROM processed_observations
		 WHERE city = $1`,
		city,
	).Scan(&s.TotalRecords, &s.UniqueLocations, &s.UniqueTimestamps, &s.First, &s.Last)
	if err != nil {
		return domain.HistoricalStats{}, storageErr("historical stats", err)
	}
	return s, nil
}

func collectProcessed(rows pgx.Rows) ([]domain.ProcessedObservation, error) {
	defer rows.Close()

	var out []domain.ProcessedObservation
	for rows.Next() {
		p, err := scanProcessed(rows)
		if err != nil {
			return nil, storageErr("scan processed observation", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("processed observations", err)
	}
	return out, nil
}
