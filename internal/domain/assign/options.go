// Package assign implements deterministic, stable variant assignment.
package assign

import "time"

// Option applies a configuration option to the Assigner.
type Option func(*Assigner)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) {
		if now != nil {
			a.now = now
		}
	}
}
