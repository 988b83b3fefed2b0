package handlers

import (
	"net/http"
	"strings"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
)

// CompareRequest names the two sessions to contrast.
type CompareRequest struct {
	CurrentSessionID  string `json:"current_session_id"`
	PreviousSessionID string `json:"previous_session_id"`
}

type CompareHandler struct {
	service *analysis.Service
}

func NewCompareHandler(service *analysis.Service) *CompareHandler {
	return &CompareHandler{service: service}
}

// Compare contrasts two analyzed sessions of the authenticated user.
func (h *CompareHandler) Compare(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var req CompareRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.CurrentSessionID = strings.TrimSpace(req.CurrentSessionID)
	req.PreviousSessionID = strings.TrimSpace(req.PreviousSessionID)
	if req.CurrentSessionID == "" || req.PreviousSessionID == "" {
		respondError(w, http.StatusBadRequest, "current_session_id and previous_session_id are required")
		return
	}
	if req.CurrentSessionID == req.PreviousSessionID {
		respondError(w, http.StatusBadRequest, "cannot compare a session with itself")
		return
	}

	result, err := h.service.Compare(r.Context(), req.CurrentSessionID, req.PreviousSessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, result)
}
