package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/jobs"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

// StatusResponse is the analyze-status payload.
type StatusResponse struct {
	SessionID   string      `json:"session_id"`
	Status      jobs.Status `json:"status"`
	Error       *string     `json:"error"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func statusFromJob(job *jobs.Job) StatusResponse {
	resp := StatusResponse{
		SessionID:   job.SessionID,
		Status:      job.Status,
		CompletedAt: job.CompletedAt,
	}
	if !job.StartedAt.IsZero() {
		started := job.StartedAt
		resp.StartedAt = &started
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}

// SessionsHandler serves analysis of single sessions.
type SessionsHandler struct {
	service    *analysis.Service
	runner     *jobs.Runner
	dispatcher jobs.Dispatcher
	progress   *ProgressHub
}

func NewSessionsHandler(service *analysis.Service, runner *jobs.Runner, dispatcher jobs.Dispatcher, progress *ProgressHub) *SessionsHandler {
	return &SessionsHandler{
		service:    service,
		runner:     runner,
		dispatcher: dispatcher,
		progress:   progress,
	}
}

// Analyze runs or queues the analysis of a session. A stored result is
// returned unless force is set; async queues the run and answers 202.
func (h *SessionsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	async, err := queryBool(r, "async")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	prepared, err := h.service.Prepare(ctx, sessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if !force {
		cached, err := h.service.Cached(ctx, sessionID, userID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		if cached != nil {
			respondData(w, http.StatusOK, cached)
			return
		}
	}

	if async {
		if job, err := h.runner.Store().Get(ctx, sessionID); err == nil && job.UserID == userID && job.Status == jobs.StatusProcessing {
			respondData(w, http.StatusAccepted, statusFromJob(job))
			return
		}
		payload := jobs.Payload{SessionID: sessionID, UserID: userID, Force: force}
		if err := h.dispatcher.Dispatch(ctx, payload); err != nil {
			respondServiceError(w, r, err)
			return
		}
		logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    userID,
		}).Info("analysis queued")
		respondData(w, http.StatusAccepted, StatusResponse{SessionID: sessionID, Status: jobs.StatusProcessing})
		return
	}

	result, err := h.service.Analyze(ctx, analysis.Request{
		SessionID: sessionID,
		UserID:    userID,
		Images:    prepared.Images,
		Force:     force,
		OnProgress: func(info analysis.ProgressInfo) {
			h.progress.Progress(jobs.Payload{SessionID: sessionID, UserID: userID}, info)
		},
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

// AnalyzeStatus reports the job status of a session. Without a recorded job,
// a stored analysis means completed.
func (h *SessionsHandler) AnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if _, err := h.service.Session(ctx, sessionID, userID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	job, err := h.runner.Store().Get(ctx, sessionID)
	switch {
	case err == nil && job.UserID == userID:
		respondData(w, http.StatusOK, statusFromJob(job))
		return
	case err != nil && !errors.Is(err, jobs.ErrJobNotFound):
		respondServiceError(w, r, err)
		return
	}

	cached, err := h.service.Cached(ctx, sessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := jobs.StatusNotStarted
	if cached != nil {
		status = jobs.StatusCompleted
	}
	respondData(w, http.StatusOK, StatusResponse{SessionID: sessionID, Status: status})
}

// Analysis returns the stored analysis of a session.
func (h *SessionsHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	cached, err := h.service.Cached(r.Context(), sessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if cached == nil {
		respondServiceError(w, r, analysis.ErrSessionNotAnalyzed)
		return
	}
	respondData(w, http.StatusOK, cached)
}

// Info places a session in the user's history.
func (h *SessionsHandler) Info(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	info, err := h.service.Info(r.Context(), sessionID, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, info)
}

// Similar lists the user's sessions nearest to this one.
func (h *SessionsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	k := constants.DefaultSimilarLimit
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}

	similar, err := h.service.Similar(r.Context(), sessionID, userID, k)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"similar":    similar,
	})
}

// Events streams the status and per-image progress of a session's analysis
// as server-sent events until the job finishes or the client disconnects.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if _, err := h.service.Session(ctx, sessionID, userID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	// Subscribe before reading the status so no transition is missed.
	eventCh := h.progress.Subscribe(sessionID)
	defer h.progress.Unsubscribe(sessionID, eventCh)

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	job, err := h.runner.Store().Get(ctx, sessionID)
	if err != nil || job.UserID != userID {
		sendSSEEvent(w, flusher, "status", StatusResponse{SessionID: sessionID, Status: jobs.StatusNotStarted})
		return
	}
	sendSSEEvent(w, flusher, "status", statusFromJob(job))
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if jobs.Status(event.Type).Terminal() {
				return
			}
		}
	}
}
