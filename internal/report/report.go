// Package report writes short neutral narratives of session analyses, either
// through a language model provider or from a fixed template.
package report

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

//go:embed prompts/report.txt
var reportPrompt string

// Sources of a report's text.
const (
	SourceTemplate = "template"
	SourceModel    = "model"
)

const closingSentence = "This summary describes visual differences between photo sessions only."

// Input is what a report is written from.
type Input struct {
	Analysis   *analysis.SessionAnalysis
	Comparison *analysis.ComparisonResult // optional
}

// Report is a generated narrative.
type Report struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Model     string    `json:"model,omitempty"`
	Fallback  string    `json:"fallback_reason,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Generator writes reports. A nil provider always uses the template.
type Generator struct {
	provider Provider
}

func NewGenerator(provider Provider) *Generator {
	return &Generator{provider: provider}
}

// Generate writes a report. Provider failures and generated text containing
// clinical vocabulary fall back to the template; only a missing analysis is
// an error.
func (g *Generator) Generate(ctx context.Context, in Input) (*Report, error) {
	if in.Analysis == nil {
		return nil, errors.New("report requires an analysis")
	}

	r := &Report{
		SessionID: in.Analysis.SessionID,
		CreatedAt: time.Now().UTC(),
	}
	if g.provider == nil {
		r.Text = Template(in)
		r.Source = SourceTemplate
		return r, nil
	}

	log := logger.WithFields(logrus.Fields{
		"session_id": in.Analysis.SessionID,
		"model":      g.provider.Name(),
	})

	text, err := g.fromModel(ctx, in)
	switch {
	case err != nil:
		log.WithError(err).Warn("report generation failed, using template")
		r.Fallback = "provider_error"
	default:
		if term, found := analysis.ContainsForbiddenTerm(text); found {
			log.WithField("term", term).Warn("generated report used clinical vocabulary, using template")
			r.Fallback = "vocabulary"
		} else {
			r.Text = text
			r.Source = SourceModel
			r.Model = g.provider.Name()
		}
	}
	if r.Text == "" {
		r.Text = Template(in)
		r.Source = SourceTemplate
	}
	usage := g.provider.GetUsage()
	r.Usage = &usage
	return r, nil
}

func (g *Generator) fromModel(ctx context.Context, in Input) (string, error) {
	systemPrompt := fmt.Sprintf(reportPrompt, strings.Join(analysis.ForbiddenTerms, ", "))
	content, err := g.provider.Complete(ctx, systemPrompt, buildContent(in))
	if err != nil {
		return "", err
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return "", fmt.Errorf("failed to parse report JSON: %w (response: %s)", err, content)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return out.Summary, nil
}

// buildContent lists the scores the model may talk about.
func buildContent(in Input) string {
	a := in.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "First session: %t\n", a.IsFirstSession)
	fmt.Fprintf(&b, "Overall change score: %.2f (%s)\n", a.OverallChangeScore, a.VariationLevel)
	if a.TrendScore != nil {
		fmt.Fprintf(&b, "Recent average change score: %.2f\n", *a.TrendScore)
	}
	fmt.Fprintf(&b, "Session image quality: %.2f\n", a.SessionQualityScore)
	fmt.Fprintf(&b, "Analysis confidence: %.2f\n", a.AnalysisConfidenceScore)
	if len(a.ComparisonLayersUsed) > 0 {
		fmt.Fprintf(&b, "Baselines compared: %s\n", strings.Join(a.ComparisonLayersUsed, ", "))
	}
	b.WriteString("\nAngles:\n")
	for _, ar := range a.Angles {
		fmt.Fprintf(&b, "- %s: change %.2f (%s), image quality %.2f\n", ar.AngleType, ar.ChangeScore, ar.VariationLevel, ar.AngleQualityScore)
	}
	if c := in.Comparison; c != nil {
		fmt.Fprintf(&b, "\nDirect comparison with session %s: difference %.2f (%s), stability %.2f\n",
			c.PreviousSessionID, c.OverallDelta, c.OverallTrend, c.StabilityIndex)
	}
	return b.String()
}

// Template writes the deterministic report.
func Template(in Input) string {
	a := in.Analysis
	var sentences []string

	if a.IsFirstSession {
		sentences = append(sentences, "This is your first analyzed session. It sets the baseline that future sessions are compared to.")
	} else {
		sentences = append(sentences, fmt.Sprintf("Compared to your personal baseline, this session shows %s (score %.2f).",
			strings.ToLower(a.VariationLevel), a.OverallChangeScore))
		if a.TrendScore != nil {
			sentences = append(sentences, fmt.Sprintf("Across your recent sessions the average change score is %.2f.", *a.TrendScore))
		}
		if top, ok := largestChange(a.Angles); ok {
			sentences = append(sentences, fmt.Sprintf("The %s angle changed the most (%s, score %.2f).",
				top.AngleType, strings.ToLower(top.VariationLevel), top.ChangeScore))
		}
	}

	if c := in.Comparison; c != nil {
		sentences = append(sentences, fmt.Sprintf("Against session %s the overall difference is %.2f (%s) with a stability index of %.2f.",
			c.PreviousSessionID, c.OverallDelta, strings.ToLower(c.OverallTrend), c.StabilityIndex))
	}

	sentences = append(sentences, fmt.Sprintf("Image quality was %.2f and analysis confidence %.2f.",
		a.SessionQualityScore, a.AnalysisConfidenceScore))
	if a.SessionQualityScore < lowQuality {
		sentences = append(sentences, "Retaking the photos in even light with a steady camera would make the next comparison more reliable.")
	}
	sentences = append(sentences, closingSentence)
	return strings.Join(sentences, " ")
}

const lowQuality = 0.5

func largestChange(angles []analysis.AngleResult) (analysis.AngleResult, bool) {
	var top analysis.AngleResult
	found := false
	for _, ar := range angles {
		if !found || ar.ChangeScore > top.ChangeScore {
			top = ar
			found = true
		}
	}
	return top, found
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}
