package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

func (r *repo) InsertRawObservation(_ context.Context, o domain.RawObservation) (bool, error) {
	if _, ok := r.st.locations[o.LocationID]; !ok {
		return false, domain.ErrLocationNotFound
	}
	key := obsKey{locationID: o.LocationID, ts: o.SourceTimestamp.UnixNano()}
	if _, exists := r.st.raw[key]; exists {
		return false, nil
	}
	o.ID = r.st.id()
	r.st.write(tableRaw)
	r.st.raw[key] = o
	return true, nil
}

func (r *repo) InsertProcessedObservation(_ context.Context, o domain.ProcessedObservation) (bool, error) {
	if _, ok := r.st.locations[o.LocationID]; !ok {
		return false, domain.ErrLocationNotFound
	}
	key := obsKey{locationID: o.LocationID, ts: o.Timestamp.UnixNano()}
	if _, exists := r.st.processed[key]; exists {
		return false, nil
	}
	o.ID = r.st.id()
	r.st.write(tableProcessed)
	r.st.processed[key] = o
	return true, nil
}

// cityObservations returns the city's processed rows ordered by timestamp,
// then location name.
func (r *repo) cityObservations(city string) []domain.ProcessedObservation {
	var out []domain.ProcessedObservation
	for _, p := range r.st.processed {
		if p.City == city {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].LocationName < out[j].LocationName
	})
	return out
}

func (r *repo) TrainingRows(_ context.Context, city string) ([]domain.TrainingRow, error) {
	var rows []domain.TrainingRow
	for _, p := range r.cityObservations(city) {
		if p.Occupied == nil || p.Capacity == nil || *p.Capacity <= 0 {
			continue
		}
		rows = append(rows, domain.TrainingRow{
			LocationName: p.LocationName,
			Hour:         p.Hour,
			Weekday:      p.DayOfWeek,
			Capacity:     *p.Capacity,
			Occupied:     *p.Occupied,
		})
	}
	return rows, nil
}

// latestPerLocation keeps the newest row of every location among the rows
// accepted by keep.
func (r *repo) latestPerLocation(city string, keep func(domain.ProcessedObservation) bool) []domain.ProcessedObservation {
	latest := make(map[int64]domain.ProcessedObservation)
	for _, p := range r.cityObservations(city) {
		if keep(p) {
			latest[p.LocationID] = p
		}
	}
	out := make([]domain.ProcessedObservation, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationName < out[j].LocationName })
	return out
}

func (r *repo) snapshotCapacity(p domain.ProcessedObservation) *int {
	if p.Capacity != nil {
		return p.Capacity
	}
	return r.st.locations[p.LocationID].Capacity
}

// LatestSnapshots returns the newest row of every location whose occupied
// count and capacity are both known.
func (r *repo) LatestSnapshots(_ context.Context, city string) ([]domain.Snapshot, error) {
	known := func(p domain.ProcessedObservation) bool {
		capacity := r.snapshotCapacity(p)
		return p.Occupied != nil && capacity != nil && *capacity > 0
	}
	var out []domain.Snapshot
	for _, p := range r.latestPerLocation(city, known) {
		out = append(out, domain.Snapshot{
			LocationName: p.LocationName,
			Timestamp:    p.Timestamp,
			Capacity:     r.snapshotCapacity(p),
			Occupied:     p.Occupied,
		})
	}
	return out, nil
}

func (r *repo) LatestObservations(_ context.Context, city string) ([]domain.ProcessedObservation, error) {
	return r.latestPerLocation(city, func(domain.ProcessedObservation) bool { return true }), nil
}

func (r *repo) NearestObservation(_ context.Context, locationID int64, target time.Time, tolerance time.Duration) (domain.ProcessedObservation, error) {
	var (
		best  domain.ProcessedObservation
		found bool
		dist  time.Duration
	)
	for _, p := range r.st.processed {
		if p.LocationID != locationID || p.Occupied == nil {
			continue
		}
		d := absDuration(p.Timestamp.Sub(target))
		if d > tolerance {
			continue
		}
		if !found || d < dist || (d == dist && p.Timestamp.Before(best.Timestamp)) {
			best, dist, found = p, d, true
		}
	}
	if !found {
		return domain.ProcessedObservation{}, domain.ErrNotFound
	}
	return best, nil
}

func (r *repo) HistoricalStats(_ context.Context, city string) (domain.HistoricalStats, error) {
	var stats domain.HistoricalStats
	locations := make(map[int64]struct{})
	timestamps := make(map[int64]struct{})
	for _, p := range r.cityObservations(city) {
		stats.TotalRecords++
		locations[p.LocationID] = struct{}{}
		timestamps[p.Timestamp.UnixNano()] = struct{}{}
		ts := p.Timestamp
		if stats.First == nil || ts.Before(*stats.First) {
			stats.First = &ts
		}
		if stats.Last == nil || ts.After(*stats.Last) {
			stats.Last = &ts
		}
	}
	stats.UniqueLocations = len(locations)
	stats.UniqueTimestamps = len(timestamps)
	return stats, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
