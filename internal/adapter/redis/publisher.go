// Package redis publishes live occupancy to Redis for dashboard consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Publisher fans newly ingested observations out on a per-city channel and
// keeps the latest observation of every location in a per-city hash.
type Publisher struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewPublisher connects to url and verifies the connection.
func NewPublisher(ctx context.Context, url string, logger *slog.Logger) (*Publisher, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{client: client, logger: logger}, nil
}

// ChannelName is the pub/sub channel carrying a city's live updates.
func ChannelName(city string) string {
	return "parking:live:" + city
}

// LatestKey is the hash holding a city's latest observation per location.
func LatestKey(city string) string {
	return "parking:latest:" + city
}

// liveUpdate is the message published for one ingested batch.
type liveUpdate struct {
	City         string                        `json:"city"`
	Observations []domain.ProcessedObservation `json:"observations"`
}

// PublishLive sends the batch on the city channel and refreshes the latest hash.
func (p *Publisher) PublishLive(ctx context.Context, city string, obs []domain.ProcessedObservation) error {
	if len(obs) == 0 {
		return nil
	}
	payload, fields, err := encodeLive(city, obs)
	if err != nil {
		return err
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, LatestKey(city), fields)
		pipe.Publish(ctx, ChannelName(city), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish live occupancy: %w", err)
	}
	p.logger.Debug("live occupancy published", "city", city, "observations", len(obs))
	return nil
}

// encodeLive builds the channel payload and the hash fields keyed by location
// name. A later observation of the same location wins.
func encodeLive(city string, obs []domain.ProcessedObservation) ([]byte, map[string]any, error) {
	payload, err := json.Marshal(liveUpdate{City: city, Observations: obs})
	if err != nil {
		return nil, nil, fmt.Errorf("encode live update: %w", err)
	}

	fields := make(map[string]any, len(obs))
	newest := make(map[string]time.Time, len(obs))
	for i := range obs {
		o := obs[i]
		if ts, seen := newest[o.LocationName]; seen && !o.Timestamp.After(ts) {
			continue
		}
		b, err := json.Marshal(o)
		if err != nil {
			return nil, nil, fmt.Errorf("encode observation: %w", err)
		}
		fields[o.LocationName] = string(b)
		newest[o.LocationName] = o.Timestamp
	}
	return payload, fields, nil
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
