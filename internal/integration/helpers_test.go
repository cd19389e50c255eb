//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

// startKafka runs a single-node KRaft broker for the duration of the test and
// returns its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("parking-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "find controller")

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}), "create topic %s", topic)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baselBatchJSON is a two-facility Basel snapshot as produced by the fetch collector.
const baselBatchJSON = `{
  "city": "Basel",
  "fetched_at": "2024-03-13T13:32:00Z",
  "records": [
    {
      "name": "Parkhaus Steinen",
      "published": "2024-03-13T14:30:00+01:00",
      "free": 40,
      "total": 100,
      "status": "offen",
      "id": "baselsteinen",
      "address": "Steinenschanze 5",
      "lot_type": "Parkhaus",
      "link": "https://www.parkleitsystem-basel.ch/parkhaus/steinen",
      "geo_point_2d": {"lat": 47.5514, "lon": 7.5898}
    },
    {
      "name": "Parkhaus Elisabethen",
      "published": "2024-03-13T14:30:00+01:00",
      "free": 10,
      "total": 50,
      "status": "offen",
      "id": "baselelisabethen",
      "address": "Steinentorberg 5",
      "lot_type": "Parkhaus",
      "geo_point_2d": {"lat": 47.5502, "lon": 7.5915}
    }
  ]
}`
