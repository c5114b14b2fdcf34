// Package service composes the engine components behind the read and write
// operations the HTTP API exposes.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	eventqueue "github.com/upliftlab/uplift/internal/adapters/mq/queue"
	"github.com/upliftlab/uplift/internal/adapters/mq/worker"
	"github.com/upliftlab/uplift/internal/adapters/repository"
	"github.com/upliftlab/uplift/internal/domain/alert"
	"github.com/upliftlab/uplift/internal/domain/assign"
	"github.com/upliftlab/uplift/internal/domain/dedupe"
	"github.com/upliftlab/uplift/internal/domain/experiment"
	"github.com/upliftlab/uplift/internal/domain/funnel"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/internal/domain/stats"
	"github.com/upliftlab/uplift/internal/domain/types"
	"github.com/upliftlab/uplift/pkg/logger"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Alert kinds produced by the background finding scan and the buffer.
const (
	AlertBufferOverflow        = "buffer_overflow"
	AlertFunnelFriction        = "funnel_friction"
	AlertExperimentSignificant = "experiment_significant"
)

const shutdownTimeout = 10 * time.Second

// Service wires the ingestion buffer, funnel tracker, experiment registry,
// assignment service, significance engine, and alert throttle into one
// intelligence façade.
type Service struct {
	// Core components
	buffer   *eventqueue.RingBuffer
	deduper  dedupe.Deduper
	tracker  *funnel.Tracker
	registry *experiment.Registry
	records  repository.Store
	assigner *assign.Assigner
	engine   *stats.Engine
	throttle *alert.Throttle
	agg      *worker.Aggregator

	// Configuration
	bufferCapacity        int
	drainBatchSize        int
	drainInterval         time.Duration
	dedupeSize            int
	shardCount            int
	funnelSteps           []string
	retention             time.Duration
	slowStep              time.Duration
	dropOffThreshold      float64
	significanceThreshold float64
	minimumSampleSize     int64
	alertCooldowns        map[string]time.Duration
	defaultAlertCooldown  time.Duration
	alertSinkCapacity     int
	scanInterval          time.Duration
	scanWindow            time.Duration

	// State
	started bool
	stopCh  chan struct{}
	aggDone chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBufferCapacity sets the ingestion buffer bound.
func WithBufferCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bufferCapacity = n
		}
	}
}

// WithDrainBatchSize sets the maximum events removed per drain call.
func WithDrainBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.drainBatchSize = n
		}
	}
}

// WithDrainInterval sets the delay between aggregator sweeps.
func WithDrainInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainInterval = d
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithShardCount sets the assignment store shard count.
func WithShardCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithFunnelSteps sets the ordered funnel step ids used by reports and the
// background scan.
func WithFunnelSteps(steps []string) Option {
	return func(s *Service) {
		if len(steps) > 0 {
			s.funnelSteps = steps
		}
	}
}

// WithRetention sets how long funnel observations are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSlowStepThreshold sets the absolute time-on-step friction threshold.
func WithSlowStepThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.slowStep = d
		}
	}
}

// WithDropOffThreshold sets the relative drop-off friction threshold.
func WithDropOffThreshold(v float64) Option {
	return func(s *Service) {
		if v > 0 {
			s.dropOffThreshold = v
		}
	}
}

// WithSignificanceThreshold sets the confidence gate, in percent.
func WithSignificanceThreshold(v float64) Option {
	return func(s *Service) {
		if v > 0 {
			s.significanceThreshold = v
		}
	}
}

// WithMinimumSampleSize sets the per-variant visitor gate.
func WithMinimumSampleSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.minimumSampleSize = n
		}
	}
}

// WithAlertCooldowns sets per-kind alert cooldown windows.
func WithAlertCooldowns(cooldowns map[string]time.Duration) Option {
	return func(s *Service) {
		if cooldowns != nil {
			s.alertCooldowns = cooldowns
		}
	}
}

// WithDefaultAlertCooldown sets the fallback cooldown for alert kinds
// without an explicit window.
func WithDefaultAlertCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultAlertCooldown = d
		}
	}
}

// WithAlertSinkCapacity sets the outbound alert channel buffer.
func WithAlertSinkCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.alertSinkCapacity = n
		}
	}
}

// WithFindingScanInterval sets how often the background scan re-evaluates
// funnel friction and experiment significance.
func WithFindingScanInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.scanInterval = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		bufferCapacity:        100_000,
		drainBatchSize:        5_000,
		drainInterval:         200 * time.Millisecond,
		dedupeSize:            500_000,
		shardCount:            8,
		funnelSteps:           []string{"landing", "signup", "activation", "purchase"},
		retention:             30 * 24 * time.Hour,
		slowStep:              2 * time.Minute,
		dropOffThreshold:      0.5,
		significanceThreshold: 95,
		minimumSampleSize:     100,
		defaultAlertCooldown:  5 * time.Minute,
		alertSinkCapacity:     256,
		scanInterval:          30 * time.Second,
		scanWindow:            7 * 24 * time.Hour,
		stopCh:                make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start builds the component graph and launches the aggregator and the
// background finding scan. Safe to call once.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting analytics engine...")

	throttleOpts := []alert.Option{
		alert.WithDefaultCooldown(s.defaultAlertCooldown),
		alert.WithSinkCapacity(s.alertSinkCapacity),
	}
	for kind, d := range s.alertCooldowns {
		throttleOpts = append(throttleOpts, alert.WithCooldown(kind, d))
	}
	s.throttle = alert.NewThrottle(throttleOpts...)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.buffer = eventqueue.NewRingBuffer(
		eventqueue.WithCapacity(s.bufferCapacity),
		eventqueue.WithOverflowFunc(func(int) {
			// The hook reports the per-append eviction; the alert carries
			// the buffer's running total instead.
			s.throttle.Emit(context.Background(),
				AlertBufferOverflow, "ingest", types.SeverityCritical,
				fmt.Sprintf("ingestion buffer full, %d events dropped so far", s.buffer.Dropped()))
		}),
	)
	s.tracker = funnel.NewTracker(
		funnel.WithRetention(s.retention),
		funnel.WithSlowStepThreshold(s.slowStep),
		funnel.WithDropOffThreshold(s.dropOffThreshold),
	)
	s.engine = stats.NewEngine(
		stats.WithSignificanceThreshold(s.significanceThreshold),
		stats.WithMinimumSampleSize(s.minimumSampleSize),
	)
	s.registry = experiment.NewRegistry(experiment.WithEvaluator(s.engine))
	s.records = repository.NewShardStore(repository.WithShardCount(s.shardCount))
	s.assigner = assign.New(s.registry, s.records)

	s.agg = worker.NewAggregator(s.buffer, s.tracker, s.assigner, s.registry,
		worker.WithDrainInterval(s.drainInterval),
		worker.WithBatchSize(s.drainBatchSize),
	)
	s.aggDone = make(chan struct{})
	go func() {
		defer close(s.aggDone)
		s.agg.Run(ctx)
	}()
	go s.scanLoop(ctx)

	s.started = true
	s.logger.Info(ctx, "analytics engine started",
		logger.Int("bufferCapacity", s.bufferCapacity),
		logger.Int("drainBatchSize", s.drainBatchSize),
		logger.Any("funnelSteps", s.funnelSteps),
	)
	return nil
}

// Stop drains the buffer one last time and shuts the components down.
func (s *Service) Stop() {
	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping analytics engine...")
	close(s.stopCh)

	if err := s.agg.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "aggregator shutdown", logger.Error(err))
	}
	_ = s.buffer.Close()

	s.started = false
	s.logger.Info(ctx, "analytics engine stopped")
}

// RecordEvent validates, deduplicates, and buffers one event. The returned
// outcome distinguishes acceptance, duplicates, invalid payloads, and a
// closed buffer.
func (s *Service) RecordEvent(ctx context.Context, e model.Event) model.RecordOutcome {
	if e.SubjectID == "" || !e.Kind.Valid() {
		metrics.RecordEventInvalid()
		return model.RecordInvalid
	}
	if e.Kind == model.KindFunnelStep && e.StepID == "" {
		metrics.RecordEventInvalid()
		return model.RecordInvalid
	}
	if (e.Kind == model.KindExposure || e.Kind == model.KindConversion) && e.ExperimentID == "" {
		metrics.RecordEventInvalid()
		return model.RecordInvalid
	}

	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	if e.EventID == "" {
		e.EventID = e.DerivedID()
	}

	if s.deduper.SeenAndRecord(ctx, e.EventID) {
		metrics.RecordEventDuplicate()
		return model.RecordDuplicate
	}

	if !s.buffer.Append(ctx, e) {
		// Leave the id retryable; the event was never buffered.
		s.deduper.Unrecord(ctx, e.EventID)
		return model.RecordRejected
	}

	metrics.RecordEventIngested(string(e.Kind))
	return model.RecordAccepted
}

// Assign resolves the stable variant for a subject.
func (s *Service) Assign(ctx context.Context, experimentID, subjectID string) (assign.Assignment, error) {
	return s.assigner.Assign(ctx, experimentID, subjectID)
}

// CreateExperiment registers a new draft experiment.
func (s *Service) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	return s.registry.Create(ctx, exp)
}

// StartExperiment transitions Draft -> Running.
func (s *Service) StartExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	return s.registry.Start(ctx, id)
}

// PauseExperiment transitions Running -> Paused.
func (s *Service) PauseExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	return s.registry.Pause(ctx, id)
}

// ResumeExperiment transitions Paused -> Running.
func (s *Service) ResumeExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	return s.registry.Resume(ctx, id)
}

// CompleteExperiment transitions to Completed and freezes the outcome.
func (s *Service) CompleteExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	return s.registry.Complete(ctx, id)
}

// UpdateTrafficShares edits variant shares; existing assignments keep their
// variant.
func (s *Service) UpdateTrafficShares(ctx context.Context, id string, shares map[string]float64) (experiment.Experiment, error) {
	return s.registry.UpdateTrafficShares(ctx, id, shares)
}

// GetExperiment returns one experiment definition with its counters.
func (s *Service) GetExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	return s.registry.Get(ctx, id)
}

// ListExperiments returns all experiments.
func (s *Service) ListExperiments(ctx context.Context) []experiment.Experiment {
	return s.registry.List(ctx)
}

// ListRunningExperiments returns the experiments currently accepting
// assignments.
func (s *Service) ListRunningExperiments(ctx context.Context) []experiment.Experiment {
	return s.registry.ListRunning(ctx)
}

// FunnelReport analyzes the configured funnel over the given window.
func (s *Service) FunnelReport(ctx context.Context, window time.Duration) (types.FunnelReport, error) {
	return s.tracker.Analyze(ctx, s.funnelSteps, window)
}

// ExperimentReport builds the dashboard feed for one experiment: per-variant
// counters plus the pairwise significance outcome against the control.
func (s *Service) ExperimentReport(ctx context.Context, id string) (types.ExperimentReport, error) {
	exp, err := s.registry.Get(ctx, id)
	if err != nil {
		return types.ExperimentReport{}, err
	}

	counts := make([]stats.Counts, len(exp.Variants))
	for i, v := range exp.Variants {
		counts[i] = v.Counts()
	}
	results, winner := s.engine.EvaluateAll(counts)

	report := types.ExperimentReport{
		ExperimentID:    exp.ID,
		Name:            exp.Name,
		GoalMetric:      exp.GoalMetric,
		Status:          string(exp.Status),
		StartedAt:       exp.StartedAt,
		EndedAt:         exp.EndedAt,
		IsSignificant:   winner != "",
		WinnerVariantID: winner,
		TakenAt:         time.Now(),
		Variants:        make([]types.VariantReport, len(exp.Variants)),
	}
	if exp.Status == experiment.StatusCompleted {
		// A completed experiment reports its frozen outcome.
		report.WinnerVariantID = exp.WinnerVariantID
		report.IsSignificant = exp.WinnerVariantID != ""
	}

	for i, v := range exp.Variants {
		vr := types.VariantReport{
			VariantID:      v.ID,
			Name:           v.Name,
			TrafficShare:   v.TrafficShare,
			Changes:        v.Changes,
			Visitors:       v.Visitors,
			Conversions:    v.Conversions,
			ConversionRate: v.Counts().ConversionRate(),
			IsControl:      i == 0,
		}
		if r, ok := results[v.ID]; ok {
			vr.ConfidencePercent = r.ConfidencePercent
			vr.LiftPercent = r.LiftPercent
		}
		report.Variants[i] = vr
	}
	return report, nil
}

// Recommendations merges funnel friction points and experiment outcomes
// into one list ranked by impact x confidence, ties broken by severity.
func (s *Service) Recommendations(ctx context.Context) ([]types.Recommendation, error) {
	var out []types.Recommendation

	report, err := s.tracker.Analyze(ctx, s.funnelSteps, s.scanWindow)
	if err != nil {
		return nil, fmt.Errorf("funnel analysis: %w", err)
	}
	for _, step := range report.Steps {
		if rec, ok := s.frictionRecommendation(step); ok {
			out = append(out, rec)
		}
	}

	for _, exp := range s.registry.List(ctx) {
		if rec, ok := s.experimentRecommendation(ctx, exp); ok {
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out, nil
}

// frictionRecommendation scores one flagged funnel step. Impact is the
// share of subjects lost at the stage; confidence grows with sample size.
func (s *Service) frictionRecommendation(step types.StepSnapshot) (types.Recommendation, bool) {
	if len(step.FrictionPoints) == 0 || step.Visitors == 0 {
		return types.Recommendation{}, false
	}

	impact := 1 - step.ConversionRate
	if step.DropOffRate != nil && *step.DropOffRate > impact {
		impact = *step.DropOffRate
	}
	confidence := float64(step.Visitors) / float64(s.minimumSampleSize)
	if confidence > 1 {
		confidence = 1
	}

	severity := types.SeverityWarning
	if impact > 0.8 {
		severity = types.SeverityCritical
	}

	return types.Recommendation{
		Source:   "funnel",
		Scope:    step.StepID,
		Severity: severity,
		Message: fmt.Sprintf("step %q shows friction (%s): %.0f%% of subjects do not advance",
			step.StepID, step.FrictionPoints[0], impact*100),
		Impact:     impact,
		Confidence: confidence,
		Score:      impact * confidence,
	}, true
}

// experimentRecommendation surfaces a decided experiment outcome.
func (s *Service) experimentRecommendation(ctx context.Context, exp experiment.Experiment) (types.Recommendation, bool) {
	if exp.Status != experiment.StatusRunning && exp.Status != experiment.StatusCompleted {
		return types.Recommendation{}, false
	}

	counts := make([]stats.Counts, len(exp.Variants))
	for i, v := range exp.Variants {
		counts[i] = v.Counts()
	}
	results, winner := s.engine.EvaluateAll(counts)
	if winner == "" {
		return types.Recommendation{}, false
	}

	r := results[winner]
	impact := r.LiftPercent / 100
	if impact < 0 {
		impact = -impact
	}
	if impact > 1 {
		impact = 1
	}
	confidence := r.ConfidencePercent / 100

	verb := "is leading"
	if exp.Status == experiment.StatusCompleted {
		verb = "won"
	}
	return types.Recommendation{
		Source:   "experiment",
		Scope:    exp.ID,
		Severity: types.SeverityInfo,
		Message: fmt.Sprintf("experiment %q: variant %q %s with %+.1f%% lift at %.1f%% confidence",
			exp.Name, winner, verb, r.LiftPercent, r.ConfidencePercent),
		Impact:     impact,
		Confidence: confidence,
		Score:      impact * confidence,
	}, true
}

// Alerts exposes the outbound notification channel.
func (s *Service) Alerts() <-chan types.Alert {
	return s.throttle.Alerts()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	ctx := context.Background()

	out := map[string]interface{}{
		"started":        s.started,
		"bufferCapacity": s.bufferCapacity,
		"funnelSteps":    s.funnelSteps,
	}
	if !s.started {
		return out
	}

	bufferLen := s.buffer.Len(ctx)
	out["bufferLength"] = bufferLen
	out["eventsDropped"] = s.buffer.Dropped()
	out["dedupeSize"] = s.deduper.Size()
	out["funnelObservations"] = s.tracker.Size()
	out["assignmentRecords"] = s.records.Count(ctx)
	out["experiments"] = len(s.registry.List(ctx))
	out["runningExperiments"] = len(s.registry.ListRunning(ctx))
	out["alertsPending"] = s.throttle.Pending()

	metrics.UpdateBufferSize(bufferLen)
	metrics.UpdateBufferUtilization(float64(bufferLen) / float64(s.bufferCapacity))
	return out
}

// scanLoop periodically re-derives findings and offers them to the alert
// throttle, which decides whether consumers hear about them again.
func (s *Service) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// scanOnce pushes current funnel friction and newly decisive experiments
// through the throttle.
func (s *Service) scanOnce(ctx context.Context) {
	report, err := s.tracker.Analyze(ctx, s.funnelSteps, s.scanWindow)
	if err != nil {
		s.logger.Warn(ctx, "finding scan: funnel analysis", logger.Error(err))
	}
	for _, step := range report.Steps {
		if rec, ok := s.frictionRecommendation(step); ok {
			s.throttle.Emit(ctx, AlertFunnelFriction, step.StepID, rec.Severity, rec.Message)
		}
	}

	for _, exp := range s.registry.ListRunning(ctx) {
		if rec, ok := s.experimentRecommendation(ctx, exp); ok {
			s.throttle.Emit(ctx, AlertExperimentSignificant, exp.ID, rec.Severity, rec.Message)
		}
	}
}
