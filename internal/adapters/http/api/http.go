// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upliftlab/uplift/internal/domain/assign"
	"github.com/upliftlab/uplift/internal/domain/experiment"
	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// RecordEvent validates, deduplicates, and buffers one event.
	RecordEvent(ctx context.Context, e model.Event) model.RecordOutcome

	// Assign resolves the stable variant for a subject.
	Assign(ctx context.Context, experimentID, subjectID string) (assign.Assignment, error)

	// Experiment management.
	CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error)
	StartExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	PauseExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	ResumeExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	CompleteExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	UpdateTrafficShares(ctx context.Context, id string, shares map[string]float64) (experiment.Experiment, error)
	GetExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	ListExperiments(ctx context.Context) []experiment.Experiment
	ListRunningExperiments(ctx context.Context) []experiment.Experiment

	// Read operations expose analytics snapshots.
	FunnelReport(ctx context.Context, window time.Duration) (types.FunnelReport, error)
	ExperimentReport(ctx context.Context, id string) (types.ExperimentReport, error)
	Recommendations(ctx context.Context) ([]types.Recommendation, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	assignHandler      *AssignHandler
	experimentsHandler *ExperimentsHandler
	reportsHandler     *ReportsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		eventsHandler:      NewEventsHandler(deps),
		assignHandler:      NewAssignHandler(deps),
		experimentsHandler: NewExperimentsHandler(deps),
		reportsHandler:     NewReportsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/assign/", MetricsMiddleware(s.assignHandler.HandleAssign, "assign"))
	mux.HandleFunc("/experiments", MetricsMiddleware(s.experimentsHandler.Handle, "experiments"))
	mux.HandleFunc("/experiments/", MetricsMiddleware(s.experimentsHandler.Handle, "experiments"))
	mux.HandleFunc("/reports/funnel", MetricsMiddleware(s.reportsHandler.HandleFunnelReport, "funnel_report"))
	mux.HandleFunc("/recommendations", MetricsMiddleware(s.reportsHandler.HandleRecommendations, "recommendations"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
