package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

// CityStatus is what the store holds for a city.
type CityStatus struct {
	City    string                        `json:"city"`
	History domain.HistoricalStats        `json:"history"`
	Latest  []domain.ProcessedObservation `json:"latest"`
}

// Status reports the stored history of city and the newest observation of
// every location, in one read transaction.
func (i *Ingestor) Status(ctx context.Context, city string) (CityStatus, error) {
	status := CityStatus{City: city}
	err := i.store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		if status.History, err = repo.HistoricalStats(ctx, city); err != nil {
			return err
		}
		status.Latest, err = repo.LatestObservations(ctx, city)
		return err
	})
	if err != nil {
		return CityStatus{}, fmt.Errorf("status of %s: %w", city, err)
	}
	return status, nil
}

// Deactivate marks a location inactive. Its history is kept and later
// sightings still record observations; the flag is left for an operator to
// clear.
func (i *Ingestor) Deactivate(ctx context.Context, city, name string) error {
	err := i.store.WithinTx(ctx, func(repo domain.Repository) error {
		return repo.DeactivateLocation(ctx, city, name, domain.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("deactivate %s/%s: %w", city, name, err)
	}
	i.logger.Info("location deactivated", "city", city, "name", name)
	return nil
}
