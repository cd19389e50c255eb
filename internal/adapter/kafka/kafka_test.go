package kafka

import (
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToFeedMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("Basel"),
		Value:     []byte(`{"city":"Basel","records":[]}`),
		Topic:     "parking-snapshots",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("data.bs.ch")},
		},
	}

	fm := mapMessageToFeedMessage(msg)

	assert.Equal(t, []byte("Basel"), fm.Key)
	assert.JSONEq(t, `{"city":"Basel","records":[]}`, string(fm.Value))
	assert.Equal(t, "parking-snapshots", fm.Topic)
	assert.Equal(t, 2, fm.Partition)
	assert.Equal(t, int64(42), fm.Offset)
	assert.Equal(t, now, fm.Timestamp)
	assert.Equal(t, "data.bs.ch", fm.Headers["source"])
	assert.Nil(t, fm.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	trained := time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC)
	v := domain.ModelVersion{
		Version:     "v20240313T150000.000000000Z",
		TrainedAt:   trained,
		City:        "Basel",
		SampleCount: 1200,
		Features:    domain.Features,
		IsSynthetic: true,
		Metrics:     domain.Metrics{MAE: 12.5, RMSE: 17.1, R2: 0.81},
		Active:      true,
	}

	msg, err := serializeToMessage(v)
	require.NoError(t, err)

	assert.Equal(t, []byte("Basel"), msg.Key)
	assert.Contains(t, string(msg.Value), `"version":"v20240313T150000.000000000Z"`)
	assert.Contains(t, string(msg.Value), `"is_synthetic":true`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "version", msg.Headers[0].Key)
	assert.Equal(t, []byte(v.Version), msg.Headers[0].Value)
	assert.Equal(t, []byte("true"), msg.Headers[1].Value)
	assert.Equal(t, []byte(trained.Format(time.RFC3339)), msg.Headers[2].Value)
}
