package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

func (r *repo) InsertModelVersion(_ context.Context, v domain.ModelVersion) (domain.ModelVersion, error) {
	if _, exists := r.st.models[v.Version]; exists {
		return domain.ModelVersion{}, fmt.Errorf("model version %s already exists", v.Version)
	}
	v.ID = r.st.id()
	v.Active = false
	v.Features = append([]string(nil), v.Features...)
	r.st.write(tableModels)
	r.st.models[v.Version] = v
	return v, nil
}

func (r *repo) ActivateModelVersion(_ context.Context, version string) error {
	if _, ok := r.st.models[version]; !ok {
		return fmt.Errorf("activate model version %s: %w", version, domain.ErrNotFound)
	}
	r.st.write(tableModels)
	for k, v := range r.st.models {
		v.Active = k == version
		r.st.models[k] = v
	}
	return nil
}

func (r *repo) ActiveModelVersion(_ context.Context) (domain.ModelVersion, error) {
	for _, v := range r.st.models {
		if v.Active {
			return v, nil
		}
	}
	return domain.ModelVersion{}, domain.ErrNoActiveModel
}

func (r *repo) LatestModelVersion(_ context.Context) (domain.ModelVersion, error) {
	all := r.sortedModels()
	if len(all) == 0 {
		return domain.ModelVersion{}, domain.ErrNotFound
	}
	return all[0], nil
}

func (r *repo) ListModelVersions(_ context.Context, activeOnly bool) ([]domain.ModelVersion, error) {
	var out []domain.ModelVersion
	for _, v := range r.sortedModels() {
		if activeOnly && !v.Active {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// sortedModels returns every version, newest first.
func (r *repo) sortedModels() []domain.ModelVersion {
	out := make([]domain.ModelVersion, 0, len(r.st.models))
	for _, v := range r.st.models {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}
