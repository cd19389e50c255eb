package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order when parsing a feed's published field.
// Layouts without an offset are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// openStatuses lists the status strings meaning a facility accepts vehicles.
var openStatuses = map[string]bool{
	"offen": true,
	"open":  true,
}

// DecodeFeedBatch parses a batch envelope. A missing fetched_at defaults to now.
func DecodeFeedBatch(data []byte) (FeedBatch, error) {
	var batch FeedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return FeedBatch{}, fmt.Errorf("decode feed batch: %w", err)
	}
	batch.City = strings.TrimSpace(batch.City)
	if batch.City == "" {
		return FeedBatch{}, &ValidationError{Field: "city", Reason: "missing"}
	}
	if batch.FetchedAt.IsZero() {
		batch.FetchedAt = clock.Now().UTC()
	}
	return batch, nil
}

// ParseSourceTimestamp parses a feed timestamp, keeping its offset.
func ParseSourceTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ValidationError{Field: "published", Reason: "missing"}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "published", Reason: fmt.Sprintf("unparseable timestamp %q", s)}
}

// ValidateRecord checks the identity fields of a record and returns its
// source timestamp.
func ValidateRecord(r SourceRecord) (time.Time, error) {
	if r.DecodeErr != nil {
		return time.Time{}, r.DecodeErr
	}
	if strings.TrimSpace(r.Name) == "" {
		return time.Time{}, &ValidationError{Field: "name", Reason: "missing"}
	}
	if r.Total != nil && *r.Total < 0 {
		return time.Time{}, &ValidationError{Field: "total", Reason: "negative capacity"}
	}
	return ParseSourceTimestamp(r.Published)
}

// LocationUpsertFromRecord maps the static attributes of a record onto an upsert.
func LocationUpsertFromRecord(city string, r SourceRecord, seenAt time.Time) LocationUpsert {
	return LocationUpsert{
		City:        city,
		Name:        strings.TrimSpace(r.Name),
		Address:     r.Address,
		LotType:     r.LotType,
		Capacity:    r.Total,
		Coordinates: r.Coordinates,
		URL:         r.URL,
		ExternalID:  r.ExternalID,
		SeenAt:      seenAt,
	}
}

// NewRawObservation builds the verbatim observation for a record.
func NewRawObservation(loc Location, r SourceRecord, ts, capturedAt time.Time) RawObservation {
	payload := r.Payload
	if len(payload) == 0 {
		payload, _ = json.Marshal(r)
	}
	return RawObservation{
		LocationID:      loc.ID,
		City:            loc.City,
		SourceTimestamp: ts,
		CapturedAt:      capturedAt,
		Payload:         payload,
		FreeSpaces:      r.Free,
		TotalSpaces:     r.Total,
		Status:          r.Status,
	}
}

// DeriveProcessed computes the enriched observation for a record. All derived
// fields are fixed here and never recomputed.
func DeriveProcessed(loc Location, r SourceRecord, ts, capturedAt time.Time) ProcessedObservation {
	weekday := DayOfWeek(ts)
	occupied := Occupied(r.Total, r.Free)
	return ProcessedObservation{
		LocationID:   loc.ID,
		City:         loc.City,
		LocationName: loc.Name,
		Timestamp:    ts,
		Hour:         ts.Hour(),
		DayOfWeek:    weekday,
		IsWeekend:    weekday >= 5,
		Capacity:     r.Total,
		FreeSpaces:   r.Free,
		Occupied:     occupied,
		OccupancyPct: OccupancyPct(occupied, r.Total),
		Status:       r.Status,
		IsOpen:       IsOpenStatus(r.Status),
		CapturedAt:   capturedAt,
	}
}

// DayOfWeek returns the weekday with Monday = 0 and Sunday = 6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Occupied returns capacity - free, or nil when either is unknown.
func Occupied(capacity, free *int) *int {
	if capacity == nil || free == nil {
		return nil
	}
	v := *capacity - *free
	return &v
}

// OccupancyPct returns occupied / capacity * 100, or nil when the ratio is
// undefined (unknown operand or capacity <= 0).
func OccupancyPct(occupied, capacity *int) *float64 {
	if occupied == nil || capacity == nil || *capacity <= 0 {
		return nil
	}
	pct := float64(*occupied) / float64(*capacity) * 100
	return &pct
}

// IsOpenStatus reports whether a feed status means the facility is open.
func IsOpenStatus(status string) bool {
	return openStatuses[strings.ToLower(strings.TrimSpace(status))]
}
