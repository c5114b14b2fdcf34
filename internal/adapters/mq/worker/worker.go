// Package worker defines the aggregation task that drains the ingestion
// buffer and routes events into the funnel tracker and experiment counters.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upliftlab/uplift/internal/domain/assign"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/pkg/logger"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultDrainInterval = 200 * time.Millisecond
	defaultBatchSize     = 5_000
)

// Event abstracts what the aggregator reads off the buffer.
// Using the model.Event type for consistency.
type Event = model.Event

// Buffer defines how the aggregator receives batches.
type Buffer interface {
	Drain(ctx context.Context, maxBatch int) []Event
}

// FunnelSink consumes funnel-step observations.
type FunnelSink interface {
	Observe(e Event)
}

// Assigner resolves a subject's variant, creating the assignment record
// when the subject enters the experiment for the first time.
type Assigner interface {
	Assign(ctx context.Context, experimentID, subjectID string) (assign.Assignment, error)
}

// Counter accumulates per-variant exposure and conversion tallies.
type Counter interface {
	RecordExposure(ctx context.Context, experimentID, subjectID, variantID string) bool
	RecordConversion(ctx context.Context, experimentID, subjectID string) bool
}

// Aggregator is the single consumer of the ingestion buffer. Exactly one
// Run loop may be active per buffer so that batch removal stays ordered.
type Aggregator struct {
	buffer   Buffer
	funnel   FunnelSink
	assigner Assigner
	counter  Counter
	name     string
	interval time.Duration
	batch    int

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewAggregator creates an aggregator with configuration options.
func NewAggregator(buffer Buffer, funnel FunnelSink, assigner Assigner, counter Counter, opts ...Option) *Aggregator {
	a := &Aggregator{
		buffer:   buffer,
		funnel:   funnel,
		assigner: assigner,
		counter:  counter,
		name:     "aggregator",
		interval: defaultDrainInterval,
		batch:    defaultBatchSize,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("aggregator"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run drains the buffer on a fixed interval until ctx is canceled or
// Shutdown is called.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown:
			// Final sweep so buffered events are not stranded.
			a.drainAll(ctx)
			return
		case <-ticker.C:
			a.drainAll(ctx)
		}
	}
}

// Shutdown stops the aggregator after one final drain of the buffer.
func (a *Aggregator) Shutdown(ctx context.Context) error {
	close(a.shutdown)

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// drainAll consumes full batches until the buffer yields a short one.
func (a *Aggregator) drainAll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch := a.buffer.Drain(ctx, a.batch)
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		for i := range batch {
			a.route(ctx, batch[i])
		}
		metrics.RecordDrainBatch(len(batch))
		metrics.RecordAggregationLatency(float64(time.Since(start).Milliseconds()))

		if len(batch) < a.batch {
			return
		}
	}
}

// route dispatches one event by kind. Page views carry no funnel or
// experiment payload; their ingestion counter is the only side effect.
func (a *Aggregator) route(ctx context.Context, e Event) {
	switch e.Kind {
	case model.KindFunnelStep:
		a.funnel.Observe(e)

	case model.KindExposure:
		assignment, err := a.assigner.Assign(ctx, e.ExperimentID, e.SubjectID)
		if err != nil {
			if !errors.Is(err, assign.ErrExperimentNotActive) {
				metrics.RecordErrorByComponent("aggregator", "assign_error")
				a.logger.Warn(ctx, "exposure for unknown experiment",
					logger.String("experimentID", e.ExperimentID),
					logger.Error(err),
				)
			}
			return
		}
		if assignment.Fallback {
			return
		}
		a.counter.RecordExposure(ctx, e.ExperimentID, e.SubjectID, assignment.VariantID)

	case model.KindConversion:
		a.counter.RecordConversion(ctx, e.ExperimentID, e.SubjectID)

	case model.KindPageView:
		// Counted at ingestion.

	default:
		metrics.RecordErrorByComponent("aggregator", "unknown_kind")
		a.logger.Warn(ctx, "event with unknown kind",
			logger.String("kind", string(e.Kind)),
			logger.String("eventID", e.EventID),
		)
	}
}
