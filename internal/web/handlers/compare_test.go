package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/report"
)

func TestCompareHandler_Compare_Success(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "s1", database.SessionStatusCompleted, constants.RequiredAngles, 0)
	env.addSession(t, "s2", database.SessionStatusCompleted, constants.RequiredAngles, 40)
	env.analyze(t, "s1")
	env.analyze(t, "s2")

	body := strings.NewReader(`{"current_session_id": "s2", "previous_session_id": "s1"}`)
	recorder := httptest.NewRecorder()
	env.compare.Compare(recorder, newRequest("POST", "/api/v1/compare", body))

	assertStatusCode(t, recorder, http.StatusOK)
	var result analysis.ComparisonResult
	parseData(t, recorder, &result)
	if result.CurrentSessionID != "s2" || result.PreviousSessionID != "s1" {
		t.Errorf("unexpected sessions %s / %s", result.CurrentSessionID, result.PreviousSessionID)
	}
	if len(result.Angles) != len(constants.RequiredAngles) {
		t.Errorf("expected %d angle deltas, got %d", len(constants.RequiredAngles), len(result.Angles))
	}
	if result.OverallDelta < 0 || result.OverallDelta > 1 {
		t.Errorf("overall delta out of range: %f", result.OverallDelta)
	}
}

func TestCompareHandler_Compare_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{bad`, errInvalidRequestBody},
		{"unknown field", `{"current": "s1"}`, errInvalidRequestBody},
		{"missing previous", `{"current_session_id": "s1"}`, "current_session_id and previous_session_id are required"},
		{"blank current", `{"current_session_id": " ", "previous_session_id": "s1"}`, "current_session_id and previous_session_id are required"},
		{"same session", `{"current_session_id": "s1", "previous_session_id": "s1"}`, "cannot compare a session with itself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			env.compare.Compare(recorder, newRequest("POST", "/api/v1/compare", strings.NewReader(tt.body)))
			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tt.message)
		})
	}
}

func TestCompareHandler_Compare_NotAnalyzed(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "s1", database.SessionStatusCompleted, constants.RequiredAngles, 0)
	env.addSession(t, "s2", database.SessionStatusCompleted, constants.RequiredAngles, 40)
	env.analyze(t, "s1")

	body := strings.NewReader(`{"current_session_id": "s2", "previous_session_id": "s1"}`)
	recorder := httptest.NewRecorder()
	env.compare.Compare(recorder, newRequest("POST", "/api/v1/compare", body))

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "session has not been analyzed")
}

func TestReportHandler_Generate(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "s1", database.SessionStatusCompleted, constants.RequiredAngles, 0)
	env.addSession(t, "s2", database.SessionStatusCompleted, constants.RequiredAngles, 40)

	recorder := httptest.NewRecorder()
	env.reports.Generate(recorder, sessionRequest("POST", "/api/v1/sessions/s2/report", "s2", nil))
	assertStatusCode(t, recorder, http.StatusNotFound)

	env.analyze(t, "s1")
	env.analyze(t, "s2")

	recorder = httptest.NewRecorder()
	env.reports.Generate(recorder, sessionRequest("POST", "/api/v1/sessions/s2/report", "s2", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var plain report.Report
	parseData(t, recorder, &plain)
	if plain.Source != report.SourceTemplate || plain.SessionID != "s2" || plain.Text == "" {
		t.Errorf("unexpected report %+v", plain)
	}

	body := strings.NewReader(`{"previous_session_id": "s1"}`)
	recorder = httptest.NewRecorder()
	env.reports.Generate(recorder, sessionRequest("POST", "/api/v1/sessions/s2/report", "s2", body))
	assertStatusCode(t, recorder, http.StatusOK)
	var compared report.Report
	parseData(t, recorder, &compared)
	if compared.Text == plain.Text {
		t.Error("expected the comparison to change the report")
	}
}

func TestReportHandler_Generate_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	env.reports.Generate(recorder, sessionRequest("POST", "/api/v1/sessions/s1/report", "s1", strings.NewReader(`{"previous_session_id": "s1"}`)))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "cannot compare a session with itself")

	recorder = httptest.NewRecorder()
	env.reports.Generate(recorder, sessionRequest("POST", "/api/v1/sessions/s1/report", "s1", strings.NewReader(`[`)))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)
}
