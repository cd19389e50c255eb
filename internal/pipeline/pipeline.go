package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/couchcryptid/parking-occupancy-etl/internal/observability"
)

// BatchExtractor reads up to batchSize feed messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.FeedMessage, error)
}

// BatchIngestor stores one decoded feed batch.
type BatchIngestor interface {
	Ingest(ctx context.Context, batch domain.FeedBatch) (IngestSummary, error)
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline consumes feed messages and hands each decoded batch to the ingestor.
type Pipeline struct {
	extractor    BatchExtractor
	ingestor     BatchIngestor
	logger       *slog.Logger
	metrics      *observability.Metrics
	ready        atomic.Bool
	batchSize    int
	fetchTimeout time.Duration
}

// New creates a Pipeline. A zero fetchTimeout leaves extraction unbounded
// apart from the reader's own flush window.
func New(e BatchExtractor, in BatchIngestor, logger *slog.Logger, metrics *observability.Metrics, batchSize int, fetchTimeout time.Duration) *Pipeline {
	return &Pipeline{
		extractor:    e,
		ingestor:     in,
		logger:       logger,
		metrics:      metrics,
		batchSize:    batchSize,
		fetchTimeout: fetchTimeout,
	}
}

// CheckReadiness returns nil once the pipeline has ingested at least one batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not ingested any batches yet")
	}
	return nil
}

// Run executes the consume loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-ingest cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	msgs, err := p.extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return backoffOrStop(ctx, backoff)
	}
	if len(msgs) == 0 {
		return ctx.Err() == nil
	}
	*backoff = initialBackoff
	p.metrics.BatchSize.Observe(float64(len(msgs)))

	for _, msg := range msgs {
		if !p.handleMessage(ctx, msg, backoff) {
			return false
		}
	}
	return true
}

func (p *Pipeline) extract(ctx context.Context) ([]domain.FeedMessage, error) {
	if p.fetchTimeout <= 0 {
		return p.extractor.ExtractBatch(ctx, p.batchSize)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	msgs, err := p.extractor.ExtractBatch(fetchCtx, p.batchSize)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// A timed-out fetch aborts the cycle; whatever was read is still valid.
		return msgs, nil
	}
	return msgs, err
}

// handleMessage decodes and ingests one message, then commits its offset.
// Storage outages are retried with backoff so the message is not lost;
// any other failure is logged and the message skipped.
func (p *Pipeline) handleMessage(ctx context.Context, msg domain.FeedMessage, backoff *time.Duration) bool {
	batch, err := domain.DecodeFeedBatch(msg.Value)
	if err != nil {
		p.logger.Warn("undecodable feed message, skipping",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		p.metrics.IngestFailures.Inc()
		p.commitOffset(ctx, msg)
		return true
	}
	p.metrics.BatchesConsumed.Inc()

	for {
		_, err := p.ingestor.Ingest(ctx, batch)
		if err == nil {
			*backoff = initialBackoff
			p.ready.Store(true)
			break
		}
		if ctx.Err() != nil {
			return false
		}
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			p.logger.Error("feed batch rejected, skipping", "error", err, "offset", msg.Offset)
			break
		}
		if !backoffOrStop(ctx, backoff) {
			return false
		}
	}

	p.commitOffset(ctx, msg)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, msg domain.FeedMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the context was cancelled.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
