package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/config"
)

type fakeProvider struct {
	usageMeter
	response string
	err      error
	system   string
	content  string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	f.system = systemPrompt
	f.content = userContent
	f.track(10, 5)
	return f.response, f.err
}

func ptr(v float64) *float64 { return &v }

func comparedAnalysis() *analysis.SessionAnalysis {
	return &analysis.SessionAnalysis{
		SessionID:               "s2",
		OverallChangeScore:      0.31,
		VariationLevel:          analysis.VariationLevel(0.31),
		TrendScore:              ptr(0.2),
		SessionQualityScore:     0.8,
		AnalysisConfidenceScore: 0.75,
		ComparisonLayersUsed:    []string{"immediate", "lifetime"},
		Angles: []analysis.AngleResult{
			{AngleType: "front", ChangeScore: 0.12, VariationLevel: analysis.VariationLevel(0.12), AngleQualityScore: 0.9},
			{AngleType: "left", ChangeScore: 0.52, VariationLevel: analysis.VariationLevel(0.52), AngleQualityScore: 0.7},
		},
	}
}

func assertNeutral(t *testing.T, text string) {
	t.Helper()
	if term, found := analysis.ContainsForbiddenTerm(text); found {
		t.Errorf("text contains %q: %s", term, text)
	}
}

func TestTemplate_FirstSession(t *testing.T) {
	text := Template(Input{Analysis: &analysis.SessionAnalysis{
		IsFirstSession:      true,
		SessionQualityScore: 0.9,
		VariationLevel:      analysis.LevelStable,
	}})

	assert.Contains(t, text, "first analyzed session")
	assert.Contains(t, text, closingSentence)
	assert.NotContains(t, text, "Retaking")
	assertNeutral(t, text)
}

func TestTemplate_Compared(t *testing.T) {
	text := Template(Input{Analysis: comparedAnalysis()})

	assert.Contains(t, text, "moderate variation (score 0.31)")
	assert.Contains(t, text, "average change score is 0.20")
	assert.Contains(t, text, "The left angle changed the most")
	assertNeutral(t, text)
}

func TestTemplate_ComparisonAndLowQuality(t *testing.T) {
	a := comparedAnalysis()
	a.SessionQualityScore = 0.3
	text := Template(Input{Analysis: a, Comparison: &analysis.ComparisonResult{
		PreviousSessionID: "s1",
		OverallDelta:      0.05,
		OverallTrend:      analysis.LevelStable,
		StabilityIndex:    0.95,
	}})

	assert.Contains(t, text, "Against session s1 the overall difference is 0.05 (stable)")
	assert.Contains(t, text, "Retaking the photos")
	assertNeutral(t, text)
}

func TestTemplate_AllLevelsNeutral(t *testing.T) {
	for _, score := range []float64{0, 0.15, 0.3, 0.5, 0.9} {
		a := comparedAnalysis()
		a.OverallChangeScore = score
		a.VariationLevel = analysis.VariationLevel(score)
		assertNeutral(t, Template(Input{Analysis: a}))
	}
}

func TestGenerate_NoProvider(t *testing.T) {
	r, err := NewGenerator(nil).Generate(context.Background(), Input{Analysis: comparedAnalysis()})
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, r.Source)
	assert.Equal(t, "s2", r.SessionID)
	assert.Nil(t, r.Usage)
	assert.Empty(t, r.Fallback)
}

func TestGenerate_RequiresAnalysis(t *testing.T) {
	_, err := NewGenerator(nil).Generate(context.Background(), Input{})
	assert.Error(t, err)
}

func TestGenerate_Provider(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		err          error
		wantSource   string
		wantFallback string
		wantText     string
	}{
		{
			name:       "json",
			response:   `{"summary": "Your photos look much like last time."}`,
			wantSource: SourceModel,
			wantText:   "Your photos look much like last time.",
		},
		{
			name:       "json wrapped in prose",
			response:   "Sure! {\"summary\": \"Little has changed.\"} Hope this helps.",
			wantSource: SourceModel,
			wantText:   "Little has changed.",
		},
		{
			name:         "forbidden vocabulary",
			response:     `{"summary": "There is no Risk visible."}`,
			wantSource:   SourceTemplate,
			wantFallback: "vocabulary",
		},
		{
			name:         "provider error",
			err:          errors.New("connection refused"),
			wantSource:   SourceTemplate,
			wantFallback: "provider_error",
		},
		{
			name:         "not json",
			response:     "no json here",
			wantSource:   SourceTemplate,
			wantFallback: "provider_error",
		},
		{
			name:         "empty summary",
			response:     `{"summary": "  "}`,
			wantSource:   SourceTemplate,
			wantFallback: "provider_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{response: tt.response, err: tt.err}
			in := Input{Analysis: comparedAnalysis()}
			r, err := NewGenerator(p).Generate(context.Background(), in)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSource, r.Source)
			assert.Equal(t, tt.wantFallback, r.Fallback)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, r.Text)
				assert.Equal(t, "fake", r.Model)
			} else {
				assert.Equal(t, Template(in), r.Text)
			}
			require.NotNil(t, r.Usage)
			assert.Equal(t, 10, r.Usage.InputTokens)

			assert.Contains(t, p.system, "malignant")
			assert.Contains(t, p.content, "- left: change 0.52")
		})
	}
}

func TestUsageMeter(t *testing.T) {
	m := usageMeter{pricing: RequestPricing{Input: 0.4, Output: 1.6}}
	m.track(1_000_000, 500_000)
	u := m.GetUsage()
	assert.Equal(t, 1_000_000, u.InputTokens)
	assert.Equal(t, 500_000, u.OutputTokens)
	assert.InDelta(t, 1.2, u.TotalCost, 1e-9)

	m.ResetUsage()
	assert.Equal(t, Usage{}, m.GetUsage())
}

func TestOllamaProvider(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"m","message":{"role":"assistant","content":"{\"summary\":\"ok\"}"},"done":true,"prompt_eval_count":12,"eval_count":3}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "m")
	out, err := p.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 12, p.GetUsage().InputTokens)
	assert.Zero(t, p.GetUsage().TotalCost)
}

func TestOllamaProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider("", "")
	assert.Equal(t, defaultOllamaURL, p.baseURL)
	assert.Equal(t, defaultOllamaModel, p.Name())
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"json_object"`)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4.1-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"summary\":\"steady\"}"}}],
			"usage": {"prompt_tokens": 1000000, "completion_tokens": 1000000, "total_tokens": 2000000}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", RequestPricing{Input: 0.4, Output: 1.6},
		option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	out, err := p.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"steady"}`, out)
	assert.InDelta(t, 2.0, p.GetUsage().TotalCost, 1e-9)
	assert.Equal(t, openAIModel, p.Name())
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		report   config.ReportConfig
		wantNil  bool
		wantErr  bool
		wantName string
	}{
		{name: "unset", wantNil: true},
		{name: "template", report: config.ReportConfig{Provider: "template"}, wantNil: true},
		{name: "openai without token", report: config.ReportConfig{Provider: "openai"}, wantErr: true},
		{name: "openai", report: config.ReportConfig{Provider: "OpenAI", OpenAIToken: "sk"}, wantName: openAIModel},
		{name: "gemini without key", report: config.ReportConfig{Provider: "gemini"}, wantErr: true},
		{name: "ollama", report: config.ReportConfig{Provider: "ollama"}, wantName: defaultOllamaModel},
		{name: "unknown", report: config.ReportConfig{Provider: "claude"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), &config.Config{Report: tt.report})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
