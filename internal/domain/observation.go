package domain

import (
	"encoding/json"
	"time"
)

// FeedBatch is one decoded snapshot of a city's feed as handed over by the
// fetch collector.
type FeedBatch struct {
	City      string         `json:"city"`
	FetchedAt time.Time      `json:"fetched_at"`
	Records   []SourceRecord `json:"records"`
}

// SourceRecord is a single facility entry of a feed snapshot. Payload holds the
// record's verbatim JSON and is stored with the raw observation. DecodeErr is
// set when the record could not be decoded; such records are rejected by
// ValidateRecord instead of failing the whole batch.
type SourceRecord struct {
	Name        string  `json:"name"`
	Published   string  `json:"published"`
	Free        *int    `json:"free"`
	Total       *int    `json:"total"`
	Status      string  `json:"status"`
	ExternalID  *string `json:"id"`
	Address     *string `json:"address"`
	LotType     *string `json:"lot_type"`
	URL         *string `json:"link"`
	Coordinates *Geo    `json:"geo_point_2d"`

	Payload   json.RawMessage `json:"-"`
	DecodeErr error           `json:"-"`
}

// RawObservation is the verbatim snapshot of one facility at a source
// timestamp. Immutable once written.
type RawObservation struct {
	ID              int64           `json:"id"`
	LocationID      int64           `json:"location_id"`
	City            string          `json:"city"`
	SourceTimestamp time.Time       `json:"source_timestamp"`
	CapturedAt      time.Time       `json:"captured_at"`
	Payload         json.RawMessage `json:"payload"`
	FreeSpaces      *int            `json:"free_spaces,omitempty"`
	TotalSpaces     *int            `json:"total_spaces,omitempty"`
	Status          string          `json:"status"`
}

// ProcessedObservation is the normalized, feature-enriched view of a raw
// observation. It is the training source for the occupancy model.
type ProcessedObservation struct {
	ID           int64     `json:"id"`
	LocationID   int64     `json:"location_id"`
	City         string    `json:"city"`
	LocationName string    `json:"location_name"`
	Timestamp    time.Time `json:"timestamp"`
	Hour         int       `json:"hour"`
	DayOfWeek    int       `json:"day_of_week"`
	IsWeekend    bool      `json:"is_weekend"`
	Capacity     *int      `json:"capacity,omitempty"`
	FreeSpaces   *int      `json:"free_spaces,omitempty"`
	Occupied     *int      `json:"occupied,omitempty"`
	OccupancyPct *float64  `json:"occupancy_pct,omitempty"`
	Status       string    `json:"status"`
	IsOpen       bool      `json:"is_open"`
	CapturedAt   time.Time `json:"captured_at"`
}

// HistoricalStats summarizes the stored history of a city.
type HistoricalStats struct {
	TotalRecords     int        `json:"total_records"`
	UniqueLocations  int        `json:"unique_locations"`
	UniqueTimestamps int        `json:"unique_timestamps"`
	First            *time.Time `json:"first,omitempty"`
	Last             *time.Time `json:"last,omitempty"`
}
