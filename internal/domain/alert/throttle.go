// Package alert rate-limits outbound notifications. Findings of the same
// kind and scope are collapsed to one alert per cooldown window so that a
// persistent condition does not flood the notification channel.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/upliftlab/uplift/internal/domain/types"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Default throttle configuration constants.
const (
	defaultCooldown     = 5 * time.Minute
	defaultSinkCapacity = 256
)

// Throttle suppresses duplicate alerts of the same (kind, scope) within a
// per-kind cooldown window. Emission is non-blocking: a full sink counts as
// suppression, never as backpressure on the caller.
type Throttle struct {
	mu          sync.Mutex
	lastEmitted map[string]time.Time // kind + "\x00" + scope -> emission time
	cooldowns   map[string]time.Duration
	fallback    time.Duration
	sink        chan types.Alert
	now         func() time.Time
}

// NewThrottle creates a throttle with configuration options.
func NewThrottle(opts ...Option) *Throttle {
	t := &Throttle{
		lastEmitted: make(map[string]time.Time),
		cooldowns:   make(map[string]time.Duration),
		fallback:    defaultCooldown,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.sink == nil {
		t.sink = make(chan types.Alert, defaultSinkCapacity)
	}
	return t
}

// Emit offers one alert to the sink. It returns true when the alert was
// delivered, false when it was suppressed by the cooldown window, by a
// full sink, or by a cancelled context. Suppressed attempts do not refresh
// the cooldown timestamp.
func (t *Throttle) Emit(ctx context.Context, kind, scope string, severity types.Severity, message string) bool {
	if ctx.Err() != nil {
		return false
	}

	now := t.now()
	key := kind + "\x00" + scope

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastEmitted[key]; ok && now.Sub(last) < t.cooldownFor(kind) {
		metrics.RecordAlertSuppressed(kind)
		return false
	}

	a := types.Alert{
		Kind:      kind,
		Scope:     scope,
		Severity:  severity,
		Message:   message,
		Timestamp: now,
	}

	select {
	case t.sink <- a:
		t.lastEmitted[key] = now
		metrics.RecordAlertEmitted(kind)
		return true
	default:
		metrics.RecordAlertSuppressed(kind)
		return false
	}
}

// Alerts exposes the delivery channel for the notification consumer.
func (t *Throttle) Alerts() <-chan types.Alert {
	return t.sink
}

// Pending returns the number of delivered alerts not yet consumed.
func (t *Throttle) Pending() int {
	return len(t.sink)
}

// cooldownFor resolves the per-kind cooldown. Callers hold t.mu.
func (t *Throttle) cooldownFor(kind string) time.Duration {
	if d, ok := t.cooldowns[kind]; ok {
		return d
	}
	return t.fallback
}
