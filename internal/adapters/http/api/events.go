// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/upliftlab/uplift/internal/domain/model"
)

// eventRequest mirrors the JSON schema for POST /events.
type eventRequest struct {
	EventID      string `json:"event_id"`
	SubjectID    string `json:"subject_id"`
	Kind         string `json:"kind"`
	ExperimentID string `json:"experiment_id"`
	StepID       string `json:"step_id"`
	TS           string `json:"ts"`
}

func (e eventRequest) validate() error {
	if strings.TrimSpace(e.SubjectID) == "" {
		return errors.New("missing subject_id")
	}
	kind := model.Kind(e.Kind)
	if !kind.Valid() {
		return errors.New("invalid kind; one of page_view, funnel_step, exposure, conversion")
	}
	if kind == model.KindFunnelStep && strings.TrimSpace(e.StepID) == "" {
		return errors.New("missing step_id for funnel_step")
	}
	if (kind == model.KindExposure || kind == model.KindConversion) && strings.TrimSpace(e.ExperimentID) == "" {
		return errors.New("missing experiment_id for " + e.Kind)
	}
	if e.TS != "" {
		if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
			return errors.New("invalid ts; must be RFC3339")
		}
	}
	return nil
}

func (e eventRequest) toEvent() model.Event {
	ev := model.Event{
		EventID:      e.EventID,
		SubjectID:    e.SubjectID,
		Kind:         model.Kind(e.Kind),
		ExperimentID: e.ExperimentID,
		StepID:       e.StepID,
	}
	if e.TS != "" {
		ev.TS, _ = time.Parse(time.RFC3339, e.TS)
	}
	return ev
}

// EventsHandler handles event submissions.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	switch h.deps.RecordEvent(r.Context(), req.toEvent()) {
	case model.RecordAccepted:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
	case model.RecordDuplicate:
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
	case model.RecordInvalid:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
	case model.RecordRejected:
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
	}
}
