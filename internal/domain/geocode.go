package domain

import (
	"context"
	"log/slog"
	"strings"
)

// EnrichWithGeocoding fills in coordinates for a record that carries an
// address but no coordinates. known reports whether the registry already holds
// coordinates for the location, in which case no lookup is made. Failures
// leave the record unchanged (graceful degradation).
func EnrichWithGeocoding(ctx context.Context, city string, rec SourceRecord, known bool, geocoder Geocoder, logger *slog.Logger) (SourceRecord, string) {
	if geocoder == nil {
		return rec, ""
	}
	if rec.Coordinates != nil || known {
		return rec, "original"
	}
	if rec.Address == nil || strings.TrimSpace(*rec.Address) == "" {
		return rec, "original"
	}

	result, err := geocoder.ForwardGeocode(ctx, *rec.Address, city)
	if err != nil {
		logger.Warn("forward geocoding failed",
			"city", city,
			"location", rec.Name,
			"address", *rec.Address,
			"error", err,
		)
		return rec, "failed"
	}
	if result.Lat == 0 && result.Lon == 0 {
		return rec, "original"
	}

	rec.Coordinates = &Geo{Lat: result.Lat, Lon: result.Lon}
	return rec, "forward"
}
