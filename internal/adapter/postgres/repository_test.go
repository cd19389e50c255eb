package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

func sqlContains(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func intPtr(i int) *int { return &i }

var seenAt = time.Date(2024, 3, 13, 14, 35, 0, 0, time.UTC)

// locationRow scans a stored Basel location with capacity 200.
func locationRow(id int64, capacity int) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = id
		*dest[1].(*string) = "Basel"
		*dest[2].(*string) = "Bahnhof Süd"
		*dest[5].(**int) = intPtr(capacity)
		*dest[10].(*bool) = true
		*dest[11].(*time.Time) = seenAt.Add(-time.Hour)
		*dest[12].(*time.Time) = seenAt.Add(-time.Hour)
		return nil
	}}
}

// --- Location tests ---

func TestUpsertLocation_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", ctx, sqlContains("INSERT INTO locations"), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = 11
		return nil
	}})

	loc, outcome, err := repo.UpsertLocation(ctx, domain.LocationUpsert{City: "Basel", Name: "Bahnhof Süd", Capacity: intPtr(200), SeenAt: seenAt})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertCreated, outcome)
	assert.Equal(t, int64(11), loc.ID)
	assert.True(t, loc.Active)
	db.AssertExpectations(t)
}

func TestUpsertLocation_Unchanged(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(locationRow(11, 200))

	loc, outcome, err := repo.UpsertLocation(ctx, domain.LocationUpsert{City: "Basel", Name: "Bahnhof Süd", Capacity: intPtr(200), SeenAt: seenAt})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUnchanged, outcome)
	assert.Equal(t, seenAt.Add(-time.Hour), loc.UpdatedAt)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertLocation_Updated(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(locationRow(11, 200))
	db.On("Exec", ctx, sqlContains("UPDATE locations"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	loc, outcome, err := repo.UpsertLocation(ctx, domain.LocationUpsert{City: "Basel", Name: "Bahnhof Süd", Capacity: intPtr(210), SeenAt: seenAt})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, outcome)
	assert.Equal(t, intPtr(210), loc.Capacity)
	assert.Equal(t, seenAt, loc.UpdatedAt)
	db.AssertExpectations(t)
}

func TestUpsertLocation_LostInsertRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", ctx, sqlContains("INSERT INTO locations"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(locationRow(12, 200)).Once()

	loc, outcome, err := repo.UpsertLocation(ctx, domain.LocationUpsert{City: "Basel", Name: "Bahnhof Süd", SeenAt: seenAt})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUnchanged, outcome)
	assert.Equal(t, int64(12), loc.ID)
	db.AssertExpectations(t)
}

func TestDeactivateLocation_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("active = FALSE"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.DeactivateLocation(ctx, "Basel", "Unknown", seenAt)
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)
}

// --- Observation tests ---

func TestInsertRawObservation_Dedup(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"inserted", "INSERT 0 1", true},
		{"duplicate", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewRepository(db)
			ctx := context.Background()
			db.On("Exec", ctx, sqlContains("ON CONFLICT (location_id, source_timestamp) DO NOTHING"), mock.Anything).
				Return(pgconn.NewCommandTag(tt.tag), nil)

			inserted, err := repo.InsertRawObservation(ctx, domain.RawObservation{LocationID: 1, SourceTimestamp: seenAt, Payload: []byte(`{}`)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, inserted)
		})
	}
}

func TestInsertProcessedObservation_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("Exec", ctx, sqlContains("ON CONFLICT (location_id, timestamp) DO NOTHING"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	inserted, err := repo.InsertProcessedObservation(ctx, domain.ProcessedObservation{LocationID: 1, Timestamp: seenAt})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestInsertProcessedObservation_ConnectionLost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("conn closed"))

	_, err := repo.InsertProcessedObservation(ctx, domain.ProcessedObservation{LocationID: 1, Timestamp: seenAt})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestNearestObservation_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.NearestObservation(ctx, 1, seenAt, 10*time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- Model version tests ---

func TestActivateModelVersion(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), mock.Anything).Return(pgconn.NewCommandTag("SELECT 1"), nil).Once()
	db.On("Exec", ctx, sqlContains("SET active = FALSE"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, sqlContains("SET active = TRUE"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	require.NoError(t, repo.ActivateModelVersion(ctx, "v20240313T143500.000000000Z"))
	db.AssertExpectations(t)
}

func TestActivateModelVersion_Unknown(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContains("pg_advisory_xact_lock"), mock.Anything).Return(pgconn.NewCommandTag("SELECT 1"), nil)
	db.On("Exec", ctx, sqlContains("SET active = FALSE"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("Exec", ctx, sqlContains("SET active = TRUE"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.ActivateModelVersion(ctx, "v0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActiveModelVersion_None(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ActiveModelVersion(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveModel)
}

// --- Prediction tests ---

func TestInsertPrediction_UnknownLocation(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("QueryRow", ctx, sqlContains("INSERT INTO predictions"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.InsertPrediction(ctx, domain.Prediction{LocationID: 99})
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestGetPredictionForUpdate_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("QueryRow", ctx, sqlContains("FOR UPDATE"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetPredictionForUpdate(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
}

func TestUpdatePredictionActual_AlreadyReconciled(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("Exec", ctx, sqlContains("actual_occupied IS NULL"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, sqlContains("SELECT EXISTS"), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = true
		return nil
	}})

	p := domain.Prediction{ID: 7, Capacity: intPtr(100), PredictedOccupied: 30}
	err := repo.UpdatePredictionActual(ctx, p.WithActual(25, seenAt), false)
	assert.ErrorIs(t, err, domain.ErrAlreadyReconciled)
	db.AssertExpectations(t)
}

func TestUpdatePredictionActual_Missing(t *testing.T) {
	tests := []struct {
		name      string
		overwrite bool
	}{
		{"reconcile", false},
		{"overwrite", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewRepository(db)
			ctx := context.Background()
			db.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
			db.On("QueryRow", ctx, sqlContains("SELECT EXISTS"), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*bool) = false
				return nil
			}}).Maybe()

			err := repo.UpdatePredictionActual(ctx, domain.Prediction{ID: 7}, tt.overwrite)
			assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
		})
	}
}

func TestPendingPredictions_SkipsLockedRows(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("Query", ctx, sqlContains("FOR UPDATE OF pr SKIP LOCKED"), mock.Anything).Return(nil, errors.New("conn closed"))

	_, err := repo.PendingPredictions(ctx, "Basel", seenAt, 10)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	db.AssertExpectations(t)
}

// --- Snapshot tests ---

func TestLatestSnapshots_RequiresKnownOccupancy(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRepository(db)
	ctx := context.Background()
	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "p.occupied IS NOT NULL") &&
			strings.Contains(sql, "COALESCE(p.capacity, l.capacity) > 0")
	}), mock.Anything).Return(nil, errors.New("conn closed"))

	_, err := repo.LatestSnapshots(ctx, "Basel")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	db.AssertExpectations(t)
}

func TestStorageErr(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key"}

	assert.NotErrorIs(t, storageErr("insert", pgErr), domain.ErrStorageUnavailable)
	assert.NotErrorIs(t, storageErr("insert", context.Canceled), domain.ErrStorageUnavailable)
	assert.ErrorIs(t, storageErr("insert", errors.New("dial tcp: connection refused")), domain.ErrStorageUnavailable)
}
