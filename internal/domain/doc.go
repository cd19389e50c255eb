// Package domain models parking-occupancy feed data and the records derived
// from it.
//
// # Data Source
//
// Occupancy snapshots originate from municipal open-data portals (the Basel
// "Parkhäuser" dataset is the reference feed). An upstream fetch collector polls
// the portal, wraps the decoded result set in a batch envelope and publishes it
// to the Kafka source topic:
//
//	{"city": "Basel", "fetched_at": "2026-01-19T15:02:11Z", "records": [...]}
//
// # Feed Record Conventions
//
// Each record describes one facility at the moment the portal last refreshed it:
//
//	name          facility name, unique within a city (required)
//	published     source timestamp, RFC3339 with offset, e.g. "2026-01-19T15:00:00+01:00"
//	total         capacity in spaces (may be absent)
//	free          free spaces (may be absent)
//	status        "offen" / "open" when the facility accepts vehicles
//	geo_point_2d  {"lat": 47.55, "lon": 7.59}
//	address, lot_type, link, id   static attributes
//
// The portal refreshes slower than the collector polls, so the same
// (name, published) pair is delivered many times. Observations are keyed by
// (location, source timestamp) and repeated deliveries are dropped.
//
// # Derived Fields
//
// Hour of day and day of week are taken from the timestamp in its own offset
// (0 = Monday, 6 = Sunday). Occupied spaces are total - free when both are
// known; occupancy percentage is occupied / total * 100 only when total > 0.
// Both are computed once when the observation is stored.
package domain
