package handlers

import (
	"net/http"
	"strings"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/report"
)

// ReportRequest optionally names a session to compare against.
type ReportRequest struct {
	PreviousSessionID string `json:"previous_session_id"`
}

type ReportHandler struct {
	service   *analysis.Service
	generator *report.Generator
}

func NewReportHandler(service *analysis.Service, generator *report.Generator) *ReportHandler {
	return &ReportHandler{service: service, generator: generator}
}

// Generate writes a neutral summary of a stored analysis, optionally
// including its comparison with an earlier session.
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var req ReportRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	previousID := strings.TrimSpace(req.PreviousSessionID)
	if previousID == sessionID {
		respondError(w, http.StatusBadRequest, "cannot compare a session with itself")
		return
	}

	ctx := r.Context()
	cached, err := h.service.Cached(ctx, sessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if cached == nil {
		respondServiceError(w, r, analysis.ErrSessionNotAnalyzed)
		return
	}

	in := report.Input{Analysis: cached}
	if previousID != "" {
		comparison, err := h.service.Compare(ctx, sessionID, previousID, userID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		in.Comparison = comparison
	}

	rep, err := h.generator.Generate(ctx, in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, rep)
}
