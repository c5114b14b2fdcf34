// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/upliftlab/uplift/internal/domain/experiment"
)

// variantPayload mirrors one experiment arm in requests and responses.
type variantPayload struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	TrafficShare   float64        `json:"traffic_share"`
	Changes        map[string]any `json:"changes,omitempty"`
	Visitors       int64          `json:"visitors"`
	Conversions    int64          `json:"conversions"`
	ConversionRate float64        `json:"conversion_rate"`
}

// experimentRequest mirrors the JSON schema for POST /experiments.
type experimentRequest struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	GoalMetric        string           `json:"goal_metric"`
	TrafficAllocation float64          `json:"traffic_allocation"`
	Variants          []variantPayload `json:"variants"`
}

func (e experimentRequest) toExperiment() experiment.Experiment {
	exp := experiment.Experiment{
		ID:                e.ID,
		Name:              e.Name,
		GoalMetric:        e.GoalMetric,
		TrafficAllocation: e.TrafficAllocation,
		Variants:          make([]experiment.Variant, len(e.Variants)),
	}
	for i, v := range e.Variants {
		exp.Variants[i] = experiment.Variant{
			ID:           v.ID,
			Name:         v.Name,
			TrafficShare: v.TrafficShare,
			Changes:      v.Changes,
		}
	}
	return exp
}

// experimentResponse mirrors the JSON shape experiments are returned in.
type experimentResponse struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	GoalMetric        string           `json:"goal_metric"`
	Status            string           `json:"status"`
	TrafficAllocation float64          `json:"traffic_allocation"`
	Variants          []variantPayload `json:"variants"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	WinnerVariantID   string           `json:"winner_variant_id,omitempty"`
}

func toResponse(exp experiment.Experiment) experimentResponse {
	out := experimentResponse{
		ID:                exp.ID,
		Name:              exp.Name,
		GoalMetric:        exp.GoalMetric,
		Status:            string(exp.Status),
		TrafficAllocation: exp.TrafficAllocation,
		Variants:          make([]variantPayload, len(exp.Variants)),
		StartedAt:         exp.StartedAt,
		EndedAt:           exp.EndedAt,
		WinnerVariantID:   exp.WinnerVariantID,
	}
	for i, v := range exp.Variants {
		out.Variants[i] = variantPayload{
			ID:             v.ID,
			Name:           v.Name,
			TrafficShare:   v.TrafficShare,
			Changes:        v.Changes,
			Visitors:       v.Visitors,
			Conversions:    v.Conversions,
			ConversionRate: v.Counts().ConversionRate(),
		}
	}
	return out
}

// trafficRequest mirrors the JSON schema for PUT /experiments/{id}/traffic.
type trafficRequest struct {
	Shares map[string]float64 `json:"shares"`
}

// ExperimentsHandler handles experiment management requests.
type ExperimentsHandler struct {
	deps Dependencies
}

// NewExperimentsHandler creates a new experiments handler.
func NewExperimentsHandler(deps Dependencies) *ExperimentsHandler {
	return &ExperimentsHandler{deps: deps}
}

// Handle dispatches /experiments and /experiments/{id}[/{action}] requests.
func (h *ExperimentsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	const op = "api.experiments"

	path := strings.TrimPrefix(r.URL.Path, "/experiments")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			http.NotFound(w, r)
		}
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.handleTransition(w, r, id, parts[1])
	case len(parts) == 2 && parts[1] == "traffic" && r.Method == http.MethodPut:
		h.handleTraffic(w, r, id)
	case len(parts) == 2 && parts[1] == "report" && r.Method == http.MethodGet:
		h.handleReport(w, r, id)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
	}
}

func (h *ExperimentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_experiment"
	var req experimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	created, err := h.deps.CreateExperiment(r.Context(), req.toExperiment())
	if err != nil {
		writeExperimentError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(created))
}

func (h *ExperimentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_experiments"

	var exps []experiment.Experiment
	switch r.URL.Query().Get("status") {
	case "":
		exps = h.deps.ListExperiments(r.Context())
	case "running":
		exps = h.deps.ListRunningExperiments(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	out := make([]experimentResponse, len(exps))
	for i, exp := range exps {
		out[i] = toResponse(exp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ExperimentsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.get_experiment"
	exp, err := h.deps.GetExperiment(r.Context(), id)
	if err != nil {
		writeExperimentError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(exp))
}

func (h *ExperimentsHandler) handleTransition(w http.ResponseWriter, r *http.Request, id, action string) {
	const op = "api.transition_experiment"

	var exp experiment.Experiment
	var err error
	switch action {
	case "start":
		exp, err = h.deps.StartExperiment(r.Context(), id)
	case "pause":
		exp, err = h.deps.PauseExperiment(r.Context(), id)
	case "resume":
		exp, err = h.deps.ResumeExperiment(r.Context(), id)
	case "complete":
		exp, err = h.deps.CompleteExperiment(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if err != nil {
		writeExperimentError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(exp))
}

func (h *ExperimentsHandler) handleTraffic(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.update_traffic"
	var req trafficRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	exp, err := h.deps.UpdateTrafficShares(r.Context(), id, req.Shares)
	if err != nil {
		writeExperimentError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(exp))
}

func (h *ExperimentsHandler) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.experiment_report"
	report, err := h.deps.ExperimentReport(r.Context(), id)
	if err != nil {
		writeExperimentError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeExperimentError translates registry errors to HTTP statuses.
func writeExperimentError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
	case errors.Is(err, experiment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", Wrap(op, err))
	case errors.Is(err, experiment.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", Wrap(op, err))
	case errors.Is(err, experiment.ErrConflictingExperiment):
		writeError(w, http.StatusConflict, "conflict", Wrap(op, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
