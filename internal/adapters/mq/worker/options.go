// Package worker defines the aggregation task that drains the ingestion
// buffer and routes events into the funnel tracker and experiment counters.
package worker

import (
	"time"

	"github.com/upliftlab/uplift/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithName sets the aggregator name for identification and logging.
func WithName(name string) Option {
	return func(a *Aggregator) {
		if name != "" {
			a.name = name
			a.logger = logger.Get().Named(name)
		}
	}
}

// WithDrainInterval sets the delay between drain sweeps.
func WithDrainInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithBatchSize sets the maximum number of events removed per drain call.
func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.batch = n
		}
	}
}

// WithLogger sets a custom logger for the aggregator.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
