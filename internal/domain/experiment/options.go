// Package experiment owns experiment definitions and their lifecycle.
package experiment

import (
	"time"

	"github.com/upliftlab/uplift/internal/domain/stats"
)

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithEvaluator sets the significance engine consulted when an experiment
// completes.
func WithEvaluator(e *stats.Engine) Option {
	return func(r *Registry) {
		if e != nil {
			r.evaluator = e
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
