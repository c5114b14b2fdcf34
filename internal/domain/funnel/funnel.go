// Package funnel accumulates funnel-step observations and derives per-window
// conversion, drop-off, and friction diagnostics.
//
// The Tracker is written by the single aggregator task and read by report
// queries; every analysis produces an immutable timestamped snapshot.
package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/internal/domain/types"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Default tracker configuration constants.
const (
	defaultRetention        = 30 * 24 * time.Hour
	defaultSlowStep         = 2 * time.Minute
	defaultDropOffThreshold = 0.5
	pruneInterval           = 10 * time.Minute
)

// Friction tags attached to flagged steps.
const (
	FrictionSlowStep    = "slow_step"
	FrictionHighDropOff = "high_drop_off"
)

// Tracker indexes funnel-step observations per (step, subject).
type Tracker struct {
	mu        sync.RWMutex
	steps     map[string]map[string][]time.Time // stepID -> subjectID -> observation times
	retention time.Duration
	slowStep  time.Duration
	dropOff   float64
	now       func() time.Time
	lastPrune time.Time
}

// NewTracker creates a tracker with configuration options.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		steps:     make(map[string]map[string][]time.Time),
		retention: defaultRetention,
		slowStep:  defaultSlowStep,
		dropOff:   defaultDropOffThreshold,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.lastPrune = t.now()
	return t
}

// Observe records one funnel-step event. Events of other kinds, or without
// a step id, are ignored. Intended to be called only by the aggregator task.
func (t *Tracker) Observe(e model.Event) {
	if e.Kind != model.KindFunnelStep || e.StepID == "" || e.SubjectID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	subjects, ok := t.steps[e.StepID]
	if !ok {
		subjects = make(map[string][]time.Time)
		t.steps[e.StepID] = subjects
	}
	subjects[e.SubjectID] = append(subjects[e.SubjectID], e.TS)

	if t.now().Sub(t.lastPrune) > pruneInterval {
		t.pruneLocked()
	}
}

// Analyze derives an immutable funnel snapshot for the given step order and
// window. It honors ctx between steps: on cancellation the steps measured so
// far are returned as a partial report together with ErrAnalysisAborted.
func (t *Tracker) Analyze(ctx context.Context, steps []string, window time.Duration) (types.FunnelReport, error) {
	start := time.Now()
	defer func() {
		metrics.RecordFunnelAnalysisLatency(float64(time.Since(start).Milliseconds()))
	}()

	now := t.now()
	report := types.FunnelReport{
		Window:  window.String(),
		TakenAt: now,
		Steps:   make([]types.StepSnapshot, 0, len(steps)),
	}
	cutoff := now.Add(-window)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var prev *types.StepSnapshot
	for i, stepID := range steps {
		select {
		case <-ctx.Done():
			report.Partial = true
			return report, fmt.Errorf("%w after %d of %d steps: %w",
				ErrAnalysisAborted, i, len(steps), ctx.Err())
		default:
		}

		var next string
		if i+1 < len(steps) {
			next = steps[i+1]
		}

		snap := t.measureLocked(stepID, next, i, cutoff)
		t.flagFriction(&snap, prev)
		report.Steps = append(report.Steps, snap)
		prev = &report.Steps[len(report.Steps)-1]
	}

	return report, nil
}

// measureLocked computes raw visitor/conversion counts and the average time
// on step for one stage. Callers hold t.mu.
func (t *Tracker) measureLocked(stepID, nextStepID string, ordinal int, cutoff time.Time) types.StepSnapshot {
	snap := types.StepSnapshot{StepID: stepID, Ordinal: ordinal}

	subjects := t.steps[stepID]
	nextSubjects := t.steps[nextStepID]

	var totalOnStep time.Duration
	var timed int64

	for subjectID, times := range subjects {
		arrived, ok := firstAtOrAfter(times, cutoff)
		if !ok {
			continue
		}
		snap.Visitors++

		if nextStepID == "" {
			continue
		}
		advanced, ok := firstAtOrAfter(nextSubjects[subjectID], cutoff)
		if !ok {
			continue
		}
		snap.Conversions++
		if d := advanced.Sub(arrived); d > 0 {
			totalOnStep += d
			timed++
		}
	}

	if snap.Visitors > 0 {
		snap.ConversionRate = float64(snap.Conversions) / float64(snap.Visitors)
	}
	if timed > 0 {
		snap.AverageTimeOnStep = (totalOnStep / time.Duration(timed)).Seconds()
	}
	return snap
}

// DropOff derives the share of upstream converters lost before a stage:
// (prevConversions - visitors) / prevConversions, clamped to [0,1]. The
// second return is false when the upstream stage had no conversions, which
// leaves the rate undefined rather than zero.
func DropOff(prevConversions, visitors int64) (float64, bool) {
	if prevConversions <= 0 {
		return 0, false
	}
	rate := float64(prevConversions-visitors) / float64(prevConversions)
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return rate, true
}

// flagFriction derives the drop-off rate against the previous stage and
// attaches friction tags. A nil DropOffRate means "no data", which is not
// the same as a drop-off of zero.
func (t *Tracker) flagFriction(snap *types.StepSnapshot, prev *types.StepSnapshot) {
	if prev != nil {
		if rate, ok := DropOff(prev.Conversions, snap.Visitors); ok {
			snap.DropOffRate = &rate
		}
	}

	if snap.AverageTimeOnStep > t.slowStep.Seconds() {
		snap.FrictionPoints = append(snap.FrictionPoints, FrictionSlowStep)
	}
	if snap.DropOffRate != nil && *snap.DropOffRate > t.dropOff {
		snap.FrictionPoints = append(snap.FrictionPoints, FrictionHighDropOff)
	}
}

// Size returns the number of tracked (step, subject) observations.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, subjects := range t.steps {
		for _, times := range subjects {
			n += len(times)
		}
	}
	return n
}

// pruneLocked drops observations older than the retention horizon.
// Callers hold t.mu.
func (t *Tracker) pruneLocked() {
	horizon := t.now().Add(-t.retention)
	for stepID, subjects := range t.steps {
		for subjectID, times := range subjects {
			kept := times[:0]
			for _, ts := range times {
				if !ts.Before(horizon) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				delete(subjects, subjectID)
			} else {
				subjects[subjectID] = kept
			}
		}
		if len(subjects) == 0 {
			delete(t.steps, stepID)
		}
	}
	t.lastPrune = t.now()
}

// firstAtOrAfter returns the earliest observation not before cutoff.
func firstAtOrAfter(times []time.Time, cutoff time.Time) (time.Time, bool) {
	var first time.Time
	found := false
	for _, ts := range times {
		if ts.Before(cutoff) {
			continue
		}
		if !found || ts.Before(first) {
			first = ts
			found = true
		}
	}
	return first, found
}
