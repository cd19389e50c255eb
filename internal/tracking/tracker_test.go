package tracking_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/memstore"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/tracking"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

type fixture struct {
	store   *memstore.Store
	tracker *tracking.Tracker
	metrics *observability.Metrics
	loc     domain.Location
}

func newFixture(t *testing.T, capacity *int) *fixture {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	store := memstore.New()
	var loc domain.Location
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		loc, _, err = repo.UpsertLocation(ctx, domain.LocationUpsert{City: "Basel", Name: "Steinen", Capacity: capacity, SeenAt: now})
		return err
	}))

	metrics := observability.NewMetricsForTesting()
	return &fixture{
		store:   store,
		tracker: tracking.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics),
		metrics: metrics,
		loc:     loc,
	}
}

func (f *fixture) record(t *testing.T, predicted int, target time.Time) domain.Prediction {
	t.Helper()
	p, err := f.tracker.RecordPrediction(context.Background(), domain.Prediction{
		LocationID:        f.loc.ID,
		TargetTime:        target,
		PredictedOccupied: predicted,
		Capacity:          f.loc.Capacity,
		ModelVersion:      "v20240314T000000.000000000Z",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) observe(t *testing.T, ts time.Time, free int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithinTx(ctx, func(repo domain.Repository) error {
		rec := domain.SourceRecord{Name: f.loc.Name, Total: f.loc.Capacity, Free: intPtr(free)}
		_, err := repo.InsertProcessedObservation(ctx, domain.DeriveProcessed(f.loc, rec, ts, ts))
		return err
	}))
}

func TestRecordPrediction_Percentage(t *testing.T) {
	f := newFixture(t, intPtr(80))
	p := f.record(t, 40, now.Add(time.Hour))

	assert.NotZero(t, p.ID)
	assert.Equal(t, now, p.PredictedAt)
	require.NotNil(t, p.PredictedOccupancyPct)
	assert.InDelta(t, 50.0, *p.PredictedOccupancyPct, 0)
	assert.Nil(t, p.ActualOccupied)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PredictionsRecorded), 0)
}

func TestRecordPrediction_ZeroCapacityHasNoPercentage(t *testing.T) {
	f := newFixture(t, intPtr(0))
	p := f.record(t, 0, now)
	assert.Nil(t, p.PredictedOccupancyPct)
}

func TestRecordPrediction_StoresInputUnclamped(t *testing.T) {
	f := newFixture(t, intPtr(100))
	p := f.record(t, 150, now)
	assert.Equal(t, 150, p.PredictedOccupied)
	require.NotNil(t, p.Capacity)
	assert.Equal(t, 100, *p.Capacity)
}

func TestRecordPrediction_UnknownLocation(t *testing.T) {
	f := newFixture(t, intPtr(100))
	_, err := f.tracker.RecordPrediction(context.Background(), domain.Prediction{LocationID: 999, TargetTime: now})
	require.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestReconcileActual_ComputesError(t *testing.T) {
	f := newFixture(t, intPtr(50))
	p := f.record(t, 30, now)

	got, err := f.tracker.ReconcileActual(context.Background(), p.ID, 25)
	require.NoError(t, err)

	require.NotNil(t, got.PredictionError)
	assert.InDelta(t, 5.0, *got.PredictionError, 0)
	require.NotNil(t, got.ActualOccupancyPct)
	assert.InDelta(t, 50.0, *got.ActualOccupancyPct, 1e-9)
	require.NotNil(t, got.ReconciledAt)
	assert.Equal(t, now, *got.ReconciledAt)
}

func TestReconcileActual_OnlyOnce(t *testing.T) {
	f := newFixture(t, intPtr(50))
	p := f.record(t, 30, now)

	_, err := f.tracker.ReconcileActual(context.Background(), p.ID, 25)
	require.NoError(t, err)

	_, err = f.tracker.ReconcileActual(context.Background(), p.ID, 40)
	require.ErrorIs(t, err, domain.ErrAlreadyReconciled)

	got, err := f.tracker.OverwriteActual(context.Background(), p.ID, 40)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, *got.PredictionError, 0)
}

func TestReconcileActual_NotFound(t *testing.T) {
	f := newFixture(t, intPtr(50))
	_, err := f.tracker.ReconcileActual(context.Background(), 12345, 1)
	require.ErrorIs(t, err, domain.ErrPredictionNotFound)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PredictionsReconciled.WithLabelValues("not_found")), 0)
}

func TestReconcileDue(t *testing.T) {
	f := newFixture(t, intPtr(100))

	matched := f.record(t, 50, now.Add(-2*time.Hour))
	unmatched := f.record(t, 50, now.Add(-5*time.Hour))
	future := f.record(t, 50, now.Add(time.Hour))

	f.observe(t, now.Add(-2*time.Hour+4*time.Minute), 45)  // occupied 55
	f.observe(t, now.Add(-2*time.Hour-30*time.Minute), 10) // outside tolerance
	f.observe(t, now.Add(time.Hour), 0)

	summary, err := f.tracker.ReconcileDue(context.Background(), "Basel", now, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Due)
	assert.Equal(t, 1, summary.Reconciled)
	assert.Equal(t, 1, summary.NoObservation)

	recent, err := f.tracker.RecentPredictions(context.Background(), "Basel", now.Add(-time.Hour))
	require.NoError(t, err)
	byID := make(map[int64]domain.Prediction)
	for _, p := range recent {
		byID[p.ID] = p
	}
	require.Len(t, byID, 3)

	require.True(t, byID[matched.ID].Reconciled())
	assert.Equal(t, 55, *byID[matched.ID].ActualOccupied)
	assert.InDelta(t, 5.0, *byID[matched.ID].PredictionError, 0)
	assert.False(t, byID[unmatched.ID].Reconciled())
	assert.False(t, byID[future.ID].Reconciled())

	acc, err := f.tracker.Accuracy(context.Background(), "Basel", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, acc.Predictions)
	assert.Equal(t, 1, acc.Reconciled)
	require.NotNil(t, acc.MeanError)
	assert.InDelta(t, 5.0, *acc.MeanError, 1e-9)
}

func TestReconcileDue_StorageUnavailable(t *testing.T) {
	f := newFixture(t, intPtr(100))
	f.store.SetUnavailable(true)

	_, err := f.tracker.ReconcileDue(context.Background(), "Basel", now, time.Minute)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

// staleStore hands out pending lists that still contain predictions another
// pass reconciled in the meantime.
type staleStore struct {
	*memstore.Store
	stale []domain.Prediction
}

func (s *staleStore) WithinTx(ctx context.Context, fn func(domain.Repository) error) error {
	return s.Store.WithinTx(ctx, func(repo domain.Repository) error {
		return fn(staleRepo{Repository: repo, stale: s.stale})
	})
}

type staleRepo struct {
	domain.Repository
	stale []domain.Prediction
}

func (r staleRepo) PendingPredictions(ctx context.Context, city string, dueBefore time.Time, limit int) ([]domain.Prediction, error) {
	pending, err := r.Repository.PendingPredictions(ctx, city, dueBefore, limit)
	return append(r.stale, pending...), err
}

func TestReconcileDue_KeepsConcurrentReconciliation(t *testing.T) {
	f := newFixture(t, intPtr(100))
	ctx := context.Background()

	done := f.record(t, 50, now.Add(-time.Hour))
	pending := f.record(t, 50, now.Add(-time.Hour))
	f.observe(t, now.Add(-time.Hour), 45) // occupied 55

	_, err := f.tracker.ReconcileActual(ctx, done.ID, 70)
	require.NoError(t, err)

	tracker := tracking.New(&staleStore{Store: f.store, stale: []domain.Prediction{done}}, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)
	summary, err := tracker.ReconcileDue(ctx, "Basel", now, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Due)
	assert.Equal(t, 1, summary.Reconciled)

	recent, err := f.tracker.RecentPredictions(ctx, "Basel", now.Add(-time.Hour))
	require.NoError(t, err)
	for _, p := range recent {
		switch p.ID {
		case done.ID:
			assert.Equal(t, 70, *p.ActualOccupied, "the earlier actual is not overwritten")
		case pending.ID:
			assert.Equal(t, 55, *p.ActualOccupied)
		}
	}
}
