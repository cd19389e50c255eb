//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/kafka"
	"github.com/couchcryptid/parking-occupancy-etl/internal/adapter/memstore"
	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
	"github.com/couchcryptid/parking-occupancy-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSourceTopic = "test-parking-snapshots"
	testSinkTopic   = "test-model-versions"
)

func testConfig(broker string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("test-reader-%d", time.Now().UnixNano()),
		BatchFlushInterval: 2 * time.Second,
	}
}

func produce(ctx context.Context, t *testing.T, broker string, values ...[]byte) {
	t.Helper()
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	defer producer.Close()

	msgs := make([]kafkago.Message, 0, len(values))
	for _, v := range values {
		msgs = append(msgs, kafkago.Message{Key: []byte("Basel"), Value: v})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

// TestKafkaReader verifies that kafka.Reader hands over feed batches verbatim
// with a working commit callback.
func TestKafkaReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	payload := []byte(baselBatchJSON)
	produce(ctx, t, broker, payload)

	reader := kafka.NewReader(testConfig(broker), discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	// The consumer group may need time to rebalance before partitions are
	// assigned and messages become available.
	var batch []domain.FeedMessage
	for len(batch) == 0 {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	msg := batch[0]
	assert.Equal(t, []byte("Basel"), msg.Key)
	assert.Equal(t, payload, msg.Value)
	assert.Equal(t, testSourceTopic, msg.Topic)
	require.NotNil(t, msg.Commit, "commit callback should be set")
	require.NoError(t, msg.Commit(ctx))

	decoded, err := domain.DecodeFeedBatch(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "Basel", decoded.City)
	require.Len(t, decoded.Records, 2)
	assert.Equal(t, "Parkhaus Steinen", decoded.Records[0].Name)
}

// TestPipelineEndToEnd runs the consume loop against a real broker and the
// in-memory store. A repeated snapshot must not create duplicate
// observations, and an undecodable message must not stop the loop.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	produce(ctx, t, broker,
		[]byte(baselBatchJSON),
		[]byte("not a feed batch"),
		[]byte(baselBatchJSON),
	)

	cfg := testConfig(broker)
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	store := memstore.New()
	metrics := observability.NewMetricsForTesting()
	ingestor := pipeline.NewIngestor(store, nil, nil, nil, discardLogger(), metrics)
	p := pipeline.New(reader, ingestor, discardLogger(), metrics, 10, 5*time.Second)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.BatchesConsumed) == 2 &&
			testutil.ToFloat64(metrics.IngestFailures) == 1
	}, 60*time.Second, 200*time.Millisecond, "pipeline did not consume all messages")

	stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}

	require.NoError(t, p.CheckReadiness(ctx))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RecordsIngested.WithLabelValues("processed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("duplicate")))

	var stats domain.HistoricalStats
	var latest []domain.ProcessedObservation
	require.NoError(t, store.WithinTx(ctx, func(repo domain.Repository) error {
		var err error
		if stats, err = repo.HistoricalStats(ctx, "Basel"); err != nil {
			return err
		}
		latest, err = repo.LatestObservations(ctx, "Basel")
		return err
	}))
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 2, stats.UniqueLocations)
	assert.Equal(t, 1, stats.UniqueTimestamps)

	occupied := make(map[string]int, len(latest))
	for _, o := range latest {
		require.NotNil(t, o.Occupied)
		occupied[o.LocationName] = *o.Occupied
	}
	assert.Equal(t, map[string]int{"Parkhaus Steinen": 60, "Parkhaus Elisabethen": 40}, occupied)
}

// TestKafkaWriter verifies that model activation events reach the sink topic
// keyed by city with version metadata in the headers.
func TestKafkaWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	writer := kafka.NewWriter(testConfig(broker), discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	version := domain.ModelVersion{
		Version:     "v20240314T093015.123456789Z",
		TrainedAt:   time.Date(2024, 3, 14, 9, 30, 15, 123456789, time.UTC),
		City:        "Basel",
		SampleCount: 400,
		Features:    domain.Features,
		IsSynthetic: true,
		Metrics:     domain.Metrics{MAE: 4.2, R2: 0.97},
		ModelPath:   "models/v20240314T093015.123456789Z.json",
		Active:      true,
	}
	require.NoError(t, writer.PublishModelVersion(ctx, version))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "Basel", string(msg.Key))
	assert.Equal(t, version.Version, headers["version"])
	assert.Equal(t, "true", headers["is_synthetic"])
	assert.Equal(t, "2024-03-14T09:30:15Z", headers["trained_at"])

	var got domain.ModelVersion
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, version.Version, got.Version)
	assert.Equal(t, version.SampleCount, got.SampleCount)
	assert.InDelta(t, 4.2, got.Metrics.MAE, 1e-9)
}
