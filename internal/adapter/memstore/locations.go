package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

func (r *repo) UpsertLocation(_ context.Context, u domain.LocationUpsert) (domain.Location, domain.UpsertOutcome, error) {
	key := locKey{city: u.City, name: u.Name}
	id, ok := r.st.locByKey[key]
	if !ok {
		loc := domain.NewLocation(u)
		loc.ID = r.st.id()
		r.st.write(tableLocations)
		r.st.locations[loc.ID] = loc
		r.st.locByKey[key] = loc.ID
		return loc, domain.UpsertCreated, nil
	}

	merged, changed := domain.MergeLocation(r.st.locations[id], u)
	if !changed {
		return merged, domain.UpsertUnchanged, nil
	}
	r.st.write(tableLocations)
	r.st.locations[id] = merged
	return merged, domain.UpsertUpdated, nil
}

func (r *repo) GetLocation(_ context.Context, city, name string) (domain.Location, error) {
	id, ok := r.st.locByKey[locKey{city: city, name: name}]
	if !ok {
		return domain.Location{}, domain.ErrLocationNotFound
	}
	return r.st.locations[id], nil
}

func (r *repo) GetLocationByID(_ context.Context, id int64) (domain.Location, error) {
	loc, ok := r.st.locations[id]
	if !ok {
		return domain.Location{}, domain.ErrLocationNotFound
	}
	return loc, nil
}

func (r *repo) ListLocations(_ context.Context, city string, activeOnly bool) ([]domain.Location, error) {
	var out []domain.Location
	for _, loc := range r.st.locations {
		if loc.City != city || (activeOnly && !loc.Active) {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *repo) DeactivateLocation(_ context.Context, city, name string, at time.Time) error {
	id, ok := r.st.locByKey[locKey{city: city, name: name}]
	if !ok {
		return domain.ErrLocationNotFound
	}
	loc := r.st.locations[id]
	if !loc.Active {
		return nil
	}
	loc.Active = false
	if at.After(loc.UpdatedAt) {
		loc.UpdatedAt = at
	}
	r.st.write(tableLocations)
	r.st.locations[id] = loc
	return nil
}
