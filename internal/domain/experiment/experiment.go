// Package experiment owns experiment definitions, their lifecycle state
// machine, and the per-variant counters mutated by the aggregator.
package experiment

import (
	"fmt"
	"math"
	"time"

	"github.com/upliftlab/uplift/internal/domain/model"
)

// Status enumerates experiment lifecycle states.
type Status string

// Lifecycle states. Transitions are one-directional except Running<->Paused;
// Completed is terminal.
const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// shareEpsilon tolerates float drift when checking shares sum to 100.
const shareEpsilon = 1e-6

// Variant is one configuration arm of an experiment, control included.
type Variant struct {
	ID           string
	Name         string
	TrafficShare float64        // 0-100
	Changes      map[string]any // opaque configuration payload
	Visitors     int64          // distinct exposed subjects
	Conversions  int64          // distinct converted subjects
}

// Counts returns the variant totals in the shape the significance engine reads.
func (v Variant) Counts() model.VariantCounts {
	return model.VariantCounts{
		VariantID:   v.ID,
		Visitors:    v.Visitors,
		Conversions: v.Conversions,
	}
}

// Experiment is a controlled A/B test definition. The first variant is the
// control. Instances handed out by the Registry are deep copies; mutation
// happens only inside the Registry.
type Experiment struct {
	ID                string
	Name              string
	GoalMetric        string
	Status            Status
	TrafficAllocation float64 // share of eligible subjects entering at all, 0-100
	Variants          []Variant
	StartedAt         *time.Time
	EndedAt           *time.Time
	WinnerVariantID   string
}

// Control returns the control variant (the first one).
func (e *Experiment) Control() Variant {
	if len(e.Variants) == 0 {
		return Variant{}
	}
	return e.Variants[0]
}

// Active reports whether the experiment accepts new assignments.
func (e *Experiment) Active() bool {
	return e.Status == StatusRunning
}

// clone deep-copies the experiment so callers can never reach registry state.
func (e *Experiment) clone() Experiment {
	out := *e
	out.Variants = make([]Variant, len(e.Variants))
	for i, v := range e.Variants {
		cv := v
		if v.Changes != nil {
			cv.Changes = make(map[string]any, len(v.Changes))
			for k, val := range v.Changes {
				cv.Changes[k] = val
			}
		}
		out.Variants[i] = cv
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		out.EndedAt = &t
	}
	return out
}

// validate rejects configurations that would break bucketing.
func (e *Experiment) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if e.GoalMetric == "" {
		return fmt.Errorf("%w: goal metric must not be empty", ErrValidation)
	}
	if e.TrafficAllocation <= 0 || e.TrafficAllocation > 100 {
		return fmt.Errorf("%w: traffic allocation must be in (0,100], got %v", ErrValidation, e.TrafficAllocation)
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("%w: at least two variants required, got %d", ErrValidation, len(e.Variants))
	}

	seen := make(map[string]struct{}, len(e.Variants))
	sum := 0.0
	for _, v := range e.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id must not be empty", ErrValidation)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate variant id %q", ErrValidation, v.ID)
		}
		seen[v.ID] = struct{}{}
		if v.TrafficShare < 0 || v.TrafficShare > 100 {
			return fmt.Errorf("%w: variant %q share must be in [0,100]", ErrValidation, v.ID)
		}
		sum += v.TrafficShare
	}
	if math.Abs(sum-100) > shareEpsilon {
		return fmt.Errorf("%w: variant shares must sum to 100, got %v", ErrValidation, sum)
	}
	return nil
}
