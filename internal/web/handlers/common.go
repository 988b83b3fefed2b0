package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
	"github.com/kozaktomas/variance-tracker/internal/logger"
	"github.com/kozaktomas/variance-tracker/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondData sends a successful response.
func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Error: message})
}

// respondServiceError maps analysis and store errors to HTTP responses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var coverage *analysis.AngleCoverageError
	switch {
	case errors.As(err, &coverage):
		respondJSON(w, http.StatusBadRequest, envelope{
			Error: fmt.Sprintf("need at least %d angles", coverage.Min),
			Details: map[string][]string{
				"present": coverage.Present,
				"missing": coverage.Missing,
			},
		})
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, analysis.ErrSessionNotCompleted):
		respondError(w, http.StatusBadRequest, "session is not completed")
	case errors.Is(err, analysis.ErrSessionNotAnalyzed):
		respondError(w, http.StatusNotFound, "session has not been analyzed")
	case errors.Is(err, analysis.ErrNoUsableImages):
		respondError(w, http.StatusUnprocessableEntity, "no usable images in session")
	case errors.Is(err, embedding.ErrDimensionMismatch):
		respondError(w, http.StatusConflict, "stored history uses a different embedding dimension")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "analysis timed out")
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		logger.WithError(err).WithField("path", sanitizeForLog(r.URL.Path)).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// requestUser returns the authenticated user id, writing 401 when absent.
func requestUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil || user.ID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return user.ID, true
}

// sessionParam returns the {id} URL parameter, writing 400 when empty.
func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return "", false
	}
	return id, true
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter", key)
	}
	return b, nil
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, constants.MaxRequestBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeOptionalBody decodes dst, accepting an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeBody(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// HealthHandler reports whether the table store is reachable.
type HealthHandler struct {
	store database.Store
}

func NewHealthHandler(store database.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logger.WithError(err).Warn("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":           "ok",
		"analysis_version": constants.AnalysisVersion,
	})
}
