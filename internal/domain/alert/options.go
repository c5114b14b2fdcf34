package alert

import (
	"time"

	"github.com/upliftlab/uplift/internal/domain/types"
)

// Option configures a Throttle.
type Option func(*Throttle)

// WithCooldown sets the cooldown window for one alert kind.
func WithCooldown(kind string, d time.Duration) Option {
	return func(t *Throttle) {
		if d > 0 {
			t.cooldowns[kind] = d
		}
	}
}

// WithDefaultCooldown sets the fallback cooldown for kinds without an
// explicit window.
func WithDefaultCooldown(d time.Duration) Option {
	return func(t *Throttle) {
		if d > 0 {
			t.fallback = d
		}
	}
}

// WithSinkCapacity sets the delivery channel buffer size.
func WithSinkCapacity(n int) Option {
	return func(t *Throttle) {
		if n > 0 {
			t.sink = make(chan types.Alert, n)
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}
