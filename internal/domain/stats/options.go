// Package stats implements the frequentist significance engine.
package stats

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithSignificanceThreshold sets the confidence percent required to declare
// a winner. Values outside (0,100) are ignored.
func WithSignificanceThreshold(percent float64) Option {
	return func(e *Engine) {
		if percent > 0 && percent < 100 {
			e.significanceThreshold = percent
		}
	}
}

// WithMinimumSampleSize sets the per-variant visitor count required before
// any winner can be declared.
func WithMinimumSampleSize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minimumSampleSize = n
		}
	}
}
