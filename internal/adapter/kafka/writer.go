package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces model activation events to the sink topic.
// It implements training.ModelPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishModelVersion announces a newly activated model version.
func (w *Writer) PublishModelVersion(ctx context.Context, v domain.ModelVersion) error {
	msg, err := serializeToMessage(v)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish model version %s: %w", v.Version, err)
	}
	w.logger.Debug("model version published", "version", v.Version, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ModelVersion into a Kafka message keyed by city.
func serializeToMessage(v domain.ModelVersion) (kafkago.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize model version: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(v.City),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "version", Value: []byte(v.Version)},
			{Key: "is_synthetic", Value: []byte(strconv.FormatBool(v.IsSynthetic))},
			{Key: "trained_at", Value: []byte(v.TrainedAt.Format(time.RFC3339))},
		},
	}, nil
}
