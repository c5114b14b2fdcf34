// Package assign implements deterministic, stable variant assignment.
//
// A subject's bucket is derived from two independent hashes of
// (experimentID, subjectID): one decides whether the subject enters the
// experiment at all, the other picks the variant. Using separate hashes
// keeps inclusion and bucketing uncorrelated. First-time assignments are
// persisted so a subject can never flip variants mid-experiment, even when
// traffic shares are edited.
package assign

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/upliftlab/uplift/internal/adapters/repository"
	"github.com/upliftlab/uplift/internal/domain/experiment"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Hash salts keeping the inclusion and bucketing hashes independent.
const (
	inclusionSalt = "inc"
	bucketSalt    = "var"
)

// ExperimentSource exposes the registry read the assigner needs.
type ExperimentSource interface {
	Get(ctx context.Context, id string) (experiment.Experiment, error)
}

// Assignment is the outcome of an assignment query.
type Assignment struct {
	ExperimentID string
	SubjectID    string
	VariantID    string
	Changes      map[string]any
	// Fallback marks subjects served the control experience without a
	// persisted record: excluded by traffic allocation, or the experiment
	// was not accepting assignments.
	Fallback bool
}

// Assigner buckets subjects into experiment variants.
type Assigner struct {
	experiments ExperimentSource
	records     repository.Store
	now         func() time.Time
}

// New creates an Assigner with configuration options.
func New(experiments ExperimentSource, records repository.Store, opts ...Option) *Assigner {
	a := &Assigner{
		experiments: experiments,
		records:     records,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Assign returns the subject's variant for the experiment.
//
// Re-invocation for the same pair returns the identical variant for the
// life of the experiment: persisted records are consulted before any
// recomputation. A non-Running experiment yields ErrExperimentNotActive
// together with a safe control assignment the caller can serve directly.
func (a *Assigner) Assign(ctx context.Context, experimentID, subjectID string) (Assignment, error) {
	exp, err := a.experiments.Get(ctx, experimentID)
	if err != nil {
		metrics.RecordAssignmentFallback()
		return Assignment{ExperimentID: experimentID, SubjectID: subjectID, Fallback: true}, err
	}

	control := exp.Control()

	// Stability first: an existing record wins over everything except a
	// terminal experiment.
	if rec, err := a.records.Get(ctx, experimentID, subjectID); err == nil {
		if exp.Status == experiment.StatusRunning || exp.Status == experiment.StatusPaused {
			metrics.RecordAssignmentReplayed()
			return a.resolved(exp, subjectID, rec.VariantID), nil
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		metrics.RecordErrorByComponent("assign", "record_read")
	}

	if !exp.Active() {
		metrics.RecordAssignmentFallback()
		return a.controlFallback(exp, subjectID, control), ErrExperimentNotActive
	}

	// Traffic allocation gate: excluded subjects get the control experience
	// and no record, so allocation edits apply to them next time.
	if hashUnit(inclusionSalt, experimentID, subjectID) >= exp.TrafficAllocation {
		metrics.RecordAssignmentFallback()
		return a.controlFallback(exp, subjectID, control), nil
	}

	variantID := bucketVariant(exp, hashUnit(bucketSalt, experimentID, subjectID))

	rec, created := a.records.PutIfAbsent(ctx, repository.Record{
		ExperimentID: experimentID,
		SubjectID:    subjectID,
		VariantID:    variantID,
		AssignedAt:   a.now(),
	})
	if created {
		metrics.RecordAssignmentComputed()
	} else {
		metrics.RecordAssignmentReplayed()
	}
	return a.resolved(exp, subjectID, rec.VariantID), nil
}

// resolved builds an Assignment for a known variant id, falling back to
// control when the variant has since disappeared from the definition.
func (a *Assigner) resolved(exp experiment.Experiment, subjectID, variantID string) Assignment {
	for _, v := range exp.Variants {
		if v.ID == variantID {
			return Assignment{
				ExperimentID: exp.ID,
				SubjectID:    subjectID,
				VariantID:    v.ID,
				Changes:      v.Changes,
			}
		}
	}
	return a.controlFallback(exp, subjectID, exp.Control())
}

func (a *Assigner) controlFallback(exp experiment.Experiment, subjectID string, control experiment.Variant) Assignment {
	return Assignment{
		ExperimentID: exp.ID,
		SubjectID:    subjectID,
		VariantID:    control.ID,
		Changes:      control.Changes,
		Fallback:     true,
	}
}

// bucketVariant walks the cumulative traffic share ranges. unit is in
// [0,100); shares sum to 100, so the walk always lands on a variant.
func bucketVariant(exp experiment.Experiment, unit float64) string {
	cumulative := 0.0
	for _, v := range exp.Variants {
		cumulative += v.TrafficShare
		if unit < cumulative {
			return v.ID
		}
	}
	return exp.Control().ID
}

// hashUnit maps (salt, experimentID, subjectID) onto [0,100) with a stable
// FNV-1a hash. Basis-point resolution is plenty for percent splits.
func hashUnit(salt, experimentID, subjectID string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(experimentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(subjectID))
	return float64(h.Sum64()%10_000) / 100.0
}
