package training_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var seedStart = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

// seedObservations stores n hourly observations for a location, with an
// occupancy that follows the hour of day.
func seedObservations(t *testing.T, store domain.Store, city, name string, capacity, n int) domain.Location {
	t.Helper()
	var loc domain.Location
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		loc, _, err = repo.UpsertLocation(ctx, domain.LocationUpsert{
			City: city, Name: name, Capacity: intPtr(capacity), SeenAt: seedStart,
		})
		if err != nil {
			return err
		}
		for i := range n {
			ts := seedStart.Add(time.Duration(i) * time.Hour)
			free := capacity - (capacity*(ts.Hour()%12+1))/13
			rec := domain.SourceRecord{Name: name, Total: intPtr(capacity), Free: intPtr(free), Status: "offen"}
			if _, err := repo.InsertProcessedObservation(ctx, domain.DeriveProcessed(loc, rec, ts, ts)); err != nil {
				return err
			}
		}
		return nil
	}))
	return loc
}

type fakeArchive struct {
	rows  []domain.ArchiveRow
	err   error
	loads int
}

func (f *fakeArchive) Load(string) ([]domain.ArchiveRow, error) {
	f.loads++
	return f.rows, f.err
}

func archiveRows(name string, capacity, n int) []domain.ArchiveRow {
	rows := make([]domain.ArchiveRow, n)
	for i := range rows {
		ts := seedStart.Add(time.Duration(i) * 30 * time.Minute)
		rows[i] = domain.ArchiveRow{
			LocationName: name,
			Timestamp:    ts,
			Capacity:     intPtr(capacity),
			Occupied:     intPtr(i % capacity),
		}
	}
	return rows
}
