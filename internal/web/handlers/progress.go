package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/jobs"
)

// ProgressEvent is streamed to clients watching an analysis.
type ProgressEvent struct {
	Type      string `json:"type"` // "progress" or a job status
	SessionID string `json:"session_id"`
	Data      any    `json:"data,omitempty"`
}

// ProgressHub fans analysis events of this process out to SSE listeners,
// keyed by session. Analyses run by a separate worker process only show up
// through the job store.
type ProgressHub struct {
	listeners map[string][]chan ProgressEvent
	mu        sync.RWMutex
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{listeners: make(map[string][]chan ProgressEvent)}
}

// Subscribe adds a listener for a session.
func (h *ProgressHub) Subscribe(sessionID string) chan ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan ProgressEvent, constants.EventChannelBuffer)
	h.listeners[sessionID] = append(h.listeners[sessionID], ch)
	return ch
}

// Unsubscribe removes and closes a listener.
func (h *ProgressHub) Unsubscribe(sessionID string, ch chan ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.listeners[sessionID]
	for i, listener := range list {
		if listener == ch {
			list = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(list) == 0 {
		delete(h.listeners, sessionID)
	} else {
		h.listeners[sessionID] = list
	}
}

// Publish sends an event to every listener of its session.
func (h *ProgressHub) Publish(event ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, listener := range h.listeners[event.SessionID] {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Progress publishes per-image progress of a job.
func (h *ProgressHub) Progress(p jobs.Payload, info analysis.ProgressInfo) {
	h.Publish(ProgressEvent{Type: "progress", SessionID: p.SessionID, Data: info})
}

// JobUpdated publishes a job status change.
func (h *ProgressHub) JobUpdated(job jobs.Job) {
	h.Publish(ProgressEvent{Type: string(job.Status), SessionID: job.SessionID, Data: statusFromJob(&job)})
}

// setupSSE sets the stream headers. On failure it writes an error response
// and returns false.
func setupSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
