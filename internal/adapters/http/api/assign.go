// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/upliftlab/uplift/internal/domain/assign"
	"github.com/upliftlab/uplift/internal/domain/experiment"
)

// assignResponse mirrors the JSON shape for GET /assign.
type assignResponse struct {
	ExperimentID string         `json:"experiment_id"`
	SubjectID    string         `json:"subject_id"`
	VariantID    string         `json:"variant_id"`
	Changes      map[string]any `json:"changes,omitempty"`
	Fallback     bool           `json:"fallback"`
}

// AssignHandler resolves variant assignments.
type AssignHandler struct {
	deps Dependencies
}

// NewAssignHandler creates a new assignment handler.
func NewAssignHandler(deps Dependencies) *AssignHandler {
	return &AssignHandler{deps: deps}
}

// HandleAssign handles GET /assign/{experiment_id}/{subject_id} requests.
func (h *AssignHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	const op = "api.assign"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/assign/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	a, err := h.deps.Assign(r.Context(), parts[0], parts[1])
	switch {
	case err == nil:
	case errors.Is(err, assign.ErrExperimentNotActive):
		// The caller still gets a variant to render: the control fallback.
	case errors.Is(err, experiment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
		return
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	writeJSON(w, http.StatusOK, assignResponse{
		ExperimentID: a.ExperimentID,
		SubjectID:    a.SubjectID,
		VariantID:    a.VariantID,
		Changes:      a.Changes,
		Fallback:     a.Fallback,
	})
}
