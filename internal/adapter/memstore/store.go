// Package memstore is an in-process implementation of domain.Store. It
// enforces the same uniqueness and activation rules as the Postgres store and
// gives each transaction all-or-nothing semantics by working on a
// copy-on-write view of the state that replaces the live state only on
// success. It keeps everything in memory and suits tests and local runs.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

type obsKey struct {
	locationID int64
	ts         int64
}

type locKey struct {
	city string
	name string
}

// table identifies the maps a transaction copies before its first write.
type table uint8

const (
	tableLocations table = 1 << iota
	tableRaw
	tableProcessed
	tableModels
	tablePredictions
)

type state struct {
	nextID int64

	locations  map[int64]domain.Location
	locByKey   map[locKey]int64
	raw        map[obsKey]domain.RawObservation
	processed  map[obsKey]domain.ProcessedObservation
	models     map[string]domain.ModelVersion
	prediction map[int64]domain.Prediction

	owned table
}

func newState() *state {
	return &state{
		locations:  make(map[int64]domain.Location),
		locByKey:   make(map[locKey]int64),
		raw:        make(map[obsKey]domain.RawObservation),
		processed:  make(map[obsKey]domain.ProcessedObservation),
		models:     make(map[string]domain.ModelVersion),
		prediction: make(map[int64]domain.Prediction),
	}
}

// begin returns a view sharing every table with s.
func (s *state) begin() *state {
	c := *s
	c.owned = 0
	return &c
}

// write copies t into the view unless the view already owns it.
func (s *state) write(t table) {
	if s.owned&t != 0 {
		return
	}
	switch t {
	case tableLocations:
		s.locations = maps.Clone(s.locations)
		s.locByKey = maps.Clone(s.locByKey)
	case tableRaw:
		s.raw = maps.Clone(s.raw)
	case tableProcessed:
		s.processed = maps.Clone(s.processed)
	case tableModels:
		s.models = maps.Clone(s.models)
	case tablePredictions:
		s.prediction = maps.Clone(s.prediction)
	}
	s.owned |= t
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the committed state. Transactions are serialized.
type Store struct {
	mu          sync.Mutex
	state       *state
	unavailable bool
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn against a copy-on-write view of the state and publishes
// the view only when fn returns nil. Tables fn only reads are not copied.
func (s *Store) WithinTx(ctx context.Context, fn func(domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return domain.ErrStorageUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.begin()
	if err := fn(&repo{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping reports ErrStorageUnavailable while the store is marked unavailable.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return domain.ErrStorageUnavailable
	}
	return nil
}

func (s *Store) Close() {}

// SetUnavailable makes every subsequent transaction fail with
// ErrStorageUnavailable until called with false.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// repo implements domain.Repository over one transaction's working state.
type repo struct {
	st *state
}

var _ domain.Store = (*Store)(nil)
var _ domain.Repository = (*repo)(nil)
