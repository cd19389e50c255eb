package domain

import "time"

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a physical parking facility, identified by (City, Name).
type Location struct {
	ID          int64     `json:"id"`
	City        string    `json:"city"`
	Name        string    `json:"name"`
	Address     *string   `json:"address,omitempty"`
	LotType     *string   `json:"lot_type,omitempty"`
	Capacity    *int      `json:"capacity,omitempty"`
	Coordinates *Geo      `json:"coordinates,omitempty"`
	URL         *string   `json:"url,omitempty"`
	ExternalID  *string   `json:"external_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LocationUpsert carries the attributes of one sighting of a location.
// Nil fields leave the stored value untouched.
type LocationUpsert struct {
	City        string
	Name        string
	Address     *string
	LotType     *string
	Capacity    *int
	Coordinates *Geo
	URL         *string
	ExternalID  *string
	SeenAt      time.Time
}

// UpsertOutcome reports what an upsert did to the registry.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// NewLocation builds the row created on the first sighting of (City, Name).
func NewLocation(u LocationUpsert) Location {
	return Location{
		City:        u.City,
		Name:        u.Name,
		Address:     u.Address,
		LotType:     u.LotType,
		Capacity:    u.Capacity,
		Coordinates: u.Coordinates,
		URL:         u.URL,
		ExternalID:  u.ExternalID,
		Active:      true,
		CreatedAt:   u.SeenAt,
		UpdatedAt:   u.SeenAt,
	}
}

// MergeLocation applies a sighting to an existing location. Non-nil incoming
// fields overwrite, nil fields are ignored, and UpdatedAt only advances when
// some attribute actually changed. The active flag is never touched.
func MergeLocation(existing Location, u LocationUpsert) (Location, bool) {
	merged := existing
	changed := false

	mergeString(&merged.Address, u.Address, &changed)
	mergeString(&merged.LotType, u.LotType, &changed)
	mergeString(&merged.URL, u.URL, &changed)
	mergeString(&merged.ExternalID, u.ExternalID, &changed)

	if u.Capacity != nil && (merged.Capacity == nil || *merged.Capacity != *u.Capacity) {
		v := *u.Capacity
		merged.Capacity = &v
		changed = true
	}
	if u.Coordinates != nil && (merged.Coordinates == nil || *merged.Coordinates != *u.Coordinates) {
		g := *u.Coordinates
		merged.Coordinates = &g
		changed = true
	}

	if changed && u.SeenAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = u.SeenAt
	}
	return merged, changed
}

func mergeString(dst **string, incoming *string, changed *bool) {
	if incoming == nil {
		return
	}
	if *dst != nil && **dst == *incoming {
		return
	}
	v := *incoming
	*dst = &v
	*changed = true
}
