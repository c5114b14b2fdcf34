// Package funnel accumulates funnel-step observations.
package funnel

import "time"

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithRetention bounds how long observations are kept. It must cover the
// largest report window.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithSlowStepThreshold sets the absolute average-time-on-step threshold
// above which a step is flagged as friction.
func WithSlowStepThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.slowStep = d
		}
	}
}

// WithDropOffThreshold sets the relative drop-off threshold (0-1) above
// which a step is flagged as friction.
func WithDropOffThreshold(rate float64) Option {
	return func(t *Tracker) {
		if rate >= 0 && rate <= 1 {
			t.dropOff = rate
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}
