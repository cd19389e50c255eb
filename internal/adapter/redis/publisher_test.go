package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestEncodeLive(t *testing.T) {
	t0 := time.Date(2024, 3, 13, 14, 30, 0, 0, time.UTC)
	obs := []domain.ProcessedObservation{
		{LocationName: "Storchen", Timestamp: t0.Add(time.Hour), Occupied: intPtr(101)},
		{LocationName: "Storchen", Timestamp: t0, Occupied: intPtr(90)},
		{LocationName: "Bahnhof Süd", Timestamp: t0, Occupied: intPtr(150)},
	}

	payload, fields, err := encodeLive("Basel", obs)
	require.NoError(t, err)

	var update liveUpdate
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, "Basel", update.City)
	assert.Len(t, update.Observations, 3)

	require.Len(t, fields, 2)
	var storchen domain.ProcessedObservation
	require.NoError(t, json.Unmarshal([]byte(fields["Storchen"].(string)), &storchen))
	assert.Equal(t, intPtr(101), storchen.Occupied)
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "parking:live:Basel", ChannelName("Basel"))
	assert.Equal(t, "parking:latest:Basel", LatestKey("Basel"))
}
