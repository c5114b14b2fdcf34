// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upliftlab/uplift/internal/domain/funnel"
	"github.com/upliftlab/uplift/internal/domain/types"
)

// defaultReportWindow applies when the caller omits ?window.
const defaultReportWindow = 7 * 24 * time.Hour

// ReportsHandler serves read-only analytics snapshots.
type ReportsHandler struct {
	deps Dependencies
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(deps Dependencies) *ReportsHandler {
	return &ReportsHandler{deps: deps}
}

// HandleFunnelReport handles GET /reports/funnel?window=7d requests.
func (h *ReportsHandler) HandleFunnelReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.funnel_report"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	report, err := h.deps.FunnelReport(r.Context(), window)
	if err != nil && !errors.Is(err, funnel.ErrAnalysisAborted) {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	// A partial report is still served; the payload carries the flag.
	writeJSON(w, http.StatusOK, report)
}

// HandleRecommendations handles GET /recommendations requests.
func (h *ReportsHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	const op = "api.recommendations"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	recs, err := h.deps.Recommendations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	if recs == nil {
		recs = []types.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// parseWindow accepts day-suffixed values ("7d") alongside the usual
// duration syntax ("24h", "90m"). Empty means the default window.
func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultReportWindow, nil
	}
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || days < 1 {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return d, nil
}
