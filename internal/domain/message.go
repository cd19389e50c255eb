package domain

import (
	"context"
	"time"
)

// FeedMessage is one message read from the feed topic. Value carries an
// encoded FeedBatch.
type FeedMessage struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string

	// Commit acknowledges the message to the broker. Nil when the source has
	// no acknowledgement (files, tests).
	Commit func(ctx context.Context) error
}
