package experiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/internal/domain/stats"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Registry owns all experiments and serializes lifecycle transitions and
// counter mutation. Reads hand out deep copies.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*entry
	evaluator *stats.Engine
	now       func() time.Time
}

// entry couples an experiment with the per-subject sets backing its
// distinct-count semantics.
type entry struct {
	exp       Experiment
	exposed   map[string]string   // subjectID -> variantID
	converted map[string]struct{} // subjectIDs already counted as conversions
}

// NewRegistry creates a registry with configuration options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:      make(map[string]*entry),
		evaluator: stats.NewEngine(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create registers a new experiment in Draft. An empty id is filled with a
// generated UUID. Returns the stored (copied) experiment.
func (r *Registry) Create(ctx context.Context, exp Experiment) (Experiment, error) {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	exp.Status = StatusDraft
	exp.StartedAt = nil
	exp.EndedAt = nil
	exp.WinnerVariantID = ""
	for i := range exp.Variants {
		exp.Variants[i].Visitors = 0
		exp.Variants[i].Conversions = 0
	}

	if err := exp.validate(); err != nil {
		return Experiment{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[exp.ID]; exists {
		return Experiment{}, fmt.Errorf("%w: experiment %q already exists", ErrValidation, exp.ID)
	}

	stored := exp.clone()
	r.byID[exp.ID] = &entry{
		exp:       stored,
		exposed:   make(map[string]string),
		converted: make(map[string]struct{}),
	}
	return stored.clone(), nil
}

// Start transitions Draft -> Running. A second Running experiment on the
// same goal metric is rejected to avoid interference.
func (r *Registry) Start(ctx context.Context, id string) (Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	if ent.exp.Status != StatusDraft {
		return Experiment{}, transitionErr(ent.exp.Status, StatusRunning)
	}
	if blocker := r.runningForGoal(ent.exp.GoalMetric, id); blocker != "" {
		return Experiment{}, fmt.Errorf("%w: experiment %q already running for goal %q",
			ErrConflictingExperiment, blocker, ent.exp.GoalMetric)
	}

	started := r.now()
	ent.exp.Status = StatusRunning
	ent.exp.StartedAt = &started
	r.updateRunningGauge()
	return ent.exp.clone(), nil
}

// Pause transitions Running -> Paused. New assignments stop; records and
// counters are preserved.
func (r *Registry) Pause(ctx context.Context, id string) (Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	if ent.exp.Status != StatusRunning {
		return Experiment{}, transitionErr(ent.exp.Status, StatusPaused)
	}
	ent.exp.Status = StatusPaused
	r.updateRunningGauge()
	return ent.exp.clone(), nil
}

// Resume transitions Paused -> Running, re-checking the goal-metric conflict
// in case another experiment started while this one was paused.
func (r *Registry) Resume(ctx context.Context, id string) (Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	if ent.exp.Status != StatusPaused {
		return Experiment{}, transitionErr(ent.exp.Status, StatusRunning)
	}
	if blocker := r.runningForGoal(ent.exp.GoalMetric, id); blocker != "" {
		return Experiment{}, fmt.Errorf("%w: experiment %q already running for goal %q",
			ErrConflictingExperiment, blocker, ent.exp.GoalMetric)
	}
	ent.exp.Status = StatusRunning
	r.updateRunningGauge()
	return ent.exp.clone(), nil
}

// Complete transitions Running or Paused -> Completed: counters freeze and a
// winner is persisted when the significance engine declares one. Completed
// is terminal.
func (r *Registry) Complete(ctx context.Context, id string) (Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	if ent.exp.Status != StatusRunning && ent.exp.Status != StatusPaused {
		return Experiment{}, transitionErr(ent.exp.Status, StatusCompleted)
	}

	ended := r.now()
	ent.exp.Status = StatusCompleted
	ent.exp.EndedAt = &ended

	counts := make([]model.VariantCounts, len(ent.exp.Variants))
	for i, v := range ent.exp.Variants {
		counts[i] = v.Counts()
	}
	_, winner := r.evaluator.EvaluateAll(counts)
	ent.exp.WinnerVariantID = winner

	metrics.RecordExperimentCompleted()
	r.updateRunningGauge()
	return ent.exp.clone(), nil
}

// UpdateTrafficShares edits variant shares on a live experiment. Edits apply
// prospectively: subjects already assigned keep their variant. Completed
// experiments are frozen.
func (r *Registry) UpdateTrafficShares(ctx context.Context, id string, shares map[string]float64) (Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	if ent.exp.Status == StatusCompleted {
		return Experiment{}, fmt.Errorf("%w: completed experiments are frozen", ErrIllegalTransition)
	}

	trial := ent.exp.clone()
	for i := range trial.Variants {
		if share, ok := shares[trial.Variants[i].ID]; ok {
			trial.Variants[i].TrafficShare = share
		}
	}
	if err := trial.validate(); err != nil {
		return Experiment{}, err
	}

	ent.exp = trial
	return ent.exp.clone(), nil
}

// RecordExposure counts a subject as a visitor to a variant, once per
// subject. Exposures are ignored before Start and after Complete. Returns
// true when a counter changed.
func (r *Registry) RecordExposure(ctx context.Context, id, subjectID, variantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return false
	}
	if ent.exp.Status != StatusRunning && ent.exp.Status != StatusPaused {
		return false
	}
	if _, seen := ent.exposed[subjectID]; seen {
		return false
	}

	for i := range ent.exp.Variants {
		if ent.exp.Variants[i].ID == variantID {
			ent.exposed[subjectID] = variantID
			ent.exp.Variants[i].Visitors++
			return true
		}
	}
	return false
}

// RecordConversion counts a conversion for the variant the subject was
// exposed to, once per subject. Conversions without a prior exposure are
// dropped; counters never decrement.
func (r *Registry) RecordConversion(ctx context.Context, id, subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, err := r.get(id)
	if err != nil {
		return false
	}
	if ent.exp.Status != StatusRunning && ent.exp.Status != StatusPaused {
		return false
	}
	variantID, exposedBefore := ent.exposed[subjectID]
	if !exposedBefore {
		return false
	}
	if _, counted := ent.converted[subjectID]; counted {
		return false
	}

	for i := range ent.exp.Variants {
		if ent.exp.Variants[i].ID == variantID {
			ent.converted[subjectID] = struct{}{}
			ent.exp.Variants[i].Conversions++
			return true
		}
	}
	return false
}

// Get returns a deep copy of the experiment.
func (r *Registry) Get(ctx context.Context, id string) (Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, err := r.get(id)
	if err != nil {
		return Experiment{}, err
	}
	return ent.exp.clone(), nil
}

// ListRunning returns deep copies of all Running experiments.
func (r *Registry) ListRunning(ctx context.Context) []Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Experiment
	for _, ent := range r.byID {
		if ent.exp.Status == StatusRunning {
			out = append(out, ent.exp.clone())
		}
	}
	return out
}

// List returns deep copies of all experiments regardless of state.
func (r *Registry) List(ctx context.Context) []Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Experiment, 0, len(r.byID))
	for _, ent := range r.byID {
		out = append(out, ent.exp.clone())
	}
	return out
}

// Counts returns the per-variant totals for significance evaluation,
// control first.
func (r *Registry) Counts(ctx context.Context, id string) ([]model.VariantCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, err := r.get(id)
	if err != nil {
		return nil, err
	}
	out := make([]model.VariantCounts, len(ent.exp.Variants))
	for i, v := range ent.exp.Variants {
		out[i] = v.Counts()
	}
	return out, nil
}

// get looks up an entry; callers hold r.mu.
func (r *Registry) get(id string) (*entry, error) {
	ent, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return ent, nil
}

// runningForGoal returns the id of a Running experiment on goal, excluding
// self. Callers hold r.mu.
func (r *Registry) runningForGoal(goal, self string) string {
	for id, ent := range r.byID {
		if id != self && ent.exp.Status == StatusRunning && ent.exp.GoalMetric == goal {
			return id
		}
	}
	return ""
}

// updateRunningGauge refreshes the running-experiments metric; callers hold r.mu.
func (r *Registry) updateRunningGauge() {
	n := 0
	for _, ent := range r.byID {
		if ent.exp.Status == StatusRunning {
			n++
		}
	}
	metrics.UpdateExperimentsRunning(n)
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
