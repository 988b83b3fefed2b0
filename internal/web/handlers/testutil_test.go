package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/database/mock"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
	"github.com/kozaktomas/variance-tracker/internal/jobs"
	"github.com/kozaktomas/variance-tracker/internal/report"
	"github.com/kozaktomas/variance-tracker/internal/storage"
	"github.com/kozaktomas/variance-tracker/internal/web/middleware"
)

const testUser = "user-1"

// testEnv wires the handlers against an in-memory store and images on disk.
type testEnv struct {
	store    *mock.Store
	dir      string
	service  *analysis.Service
	jobStore *jobs.MemoryStore
	runner   *jobs.Runner
	hub      *ProgressHub
	sessions *SessionsHandler
	compare  *CompareHandler
	reports  *ReportHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	images, err := storage.NewFSStore(dir)
	if err != nil {
		t.Fatalf("failed to open image dir: %v", err)
	}
	t.Cleanup(func() { images.Close() })

	store := mock.NewStore()
	service := analysis.NewService(store, images, embedding.NewHashExtractor(512), config.AnalysisConfig{
		TargetSize:       64,
		IntermediateSize: 96,
		ImageWorkers:     2,
	})

	hub := NewProgressHub()
	jobStore := jobs.NewMemoryStore(time.Hour)
	t.Cleanup(jobStore.Stop)
	runner := jobs.NewRunner(jobStore, jobs.AnalyzeWith(service, hub.Progress))
	runner.OnUpdate(hub.JobUpdated)

	return &testEnv{
		store:    store,
		dir:      dir,
		service:  service,
		jobStore: jobStore,
		runner:   runner,
		hub:      hub,
		sessions: NewSessionsHandler(service, runner, jobs.NewLocalDispatcher(runner), hub),
		compare:  NewCompareHandler(service),
		reports:  NewReportHandler(service, report.NewGenerator(nil)),
	}
}

// patternPNG renders a textured image; different seeds give different embeddings.
func patternPNG(t *testing.T, seed int) []byte {
	t.Helper()
	const w, h = 96, 96
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8((x*7 + y*13 + seed*31) % 256)
			c := color.NRGBA{R: v / 2, G: v / 3, B: v / 4, A: 255}
			if x > 30 && x < 66 && y > 15 && y < 81 {
				c = color.NRGBA{R: 200, G: uint8(120 + seed%50), B: uint8((x + y + seed) % 256), A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return buf.Bytes()
}

// addSession stores a session of testUser with one image per angle.
func (e *testEnv) addSession(t *testing.T, sessionID, status string, angles []string, seedBase int) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.SaveSession(ctx, database.Session{ID: sessionID, UserID: testUser, Status: status}); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}
	for i, angle := range angles {
		path := fmt.Sprintf("%s-%s.png", sessionID, angle)
		if err := os.WriteFile(filepath.Join(e.dir, path), patternPNG(t, seedBase+i), 0o600); err != nil {
			t.Fatalf("failed to write image: %v", err)
		}
		img := database.Image{
			ID:          sessionID + "-" + angle,
			SessionID:   sessionID,
			UserID:      testUser,
			AngleType:   angle,
			StoragePath: path,
		}
		if err := e.store.SaveImage(ctx, img); err != nil {
			t.Fatalf("failed to save image: %v", err)
		}
	}
}

// analyze runs a synchronous analysis directly on the service.
func (e *testEnv) analyze(t *testing.T, sessionID string) {
	t.Helper()
	if _, err := e.service.Analyze(context.Background(), analysis.Request{SessionID: sessionID, UserID: testUser, Force: true}); err != nil {
		t.Fatalf("failed to analyze %s: %v", sessionID, err)
	}
}

// newRequest builds a request as testUser.
func newRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	return req.WithContext(middleware.SetUserInContext(req.Context(), &middleware.User{ID: testUser}))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// sessionRequest builds a request as testUser for the {id} route parameter.
func sessionRequest(method, path, sessionID string, body io.Reader) *http.Request {
	return requestWithChiParams(newRequest(method, path, body), map[string]string{"id": sessionID})
}

// testResponse mirrors the response envelope with raw data.
type testResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   string              `json:"error"`
	Details map[string][]string `json:"details"`
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// parseData parses the envelope and its data into target.
func parseData(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	var resp testResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Success {
		t.Fatalf("expected success response, got error %q", resp.Error)
	}
	if err := json.Unmarshal(resp.Data, target); err != nil {
		t.Fatalf("failed to parse response data: %v\nData: %s", err, string(resp.Data))
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var resp testResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Success {
		t.Errorf("expected error response, got success")
	}
	if resp.Error != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, resp.Error)
	}
}
