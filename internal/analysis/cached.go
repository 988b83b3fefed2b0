package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
)

// Cached rebuilds a stored analysis. It returns nil without error when the
// session has no complete stored analysis.
//
// Per-image details and the per-angle angle-aware scores are not stored, so
// they are absent from a cached result.
func (s *Service) Cached(ctx context.Context, sessionID, userID string) (*SessionAnalysis, error) {
	row, err := s.store.GetSessionAnalysis(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stored analysis: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	angles, err := s.store.GetAngleAnalyses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stored angle analyses: %w", err)
	}
	if len(angles) == 0 {
		return nil, nil
	}

	result := &SessionAnalysis{
		SessionID:            sessionID,
		UserID:               userID,
		OverallChangeScore:   row.OverallChangeScore,
		VariationLevel:       VariationLevel(row.OverallChangeScore),
		TrendScore:           row.TrendScore,
		BaselineUsed:         constants.BaselineNone,
		ComparisonLayersUsed: []string{},
		AnalysisVersion:      constants.AnalysisVersion,
		Persisted:            true,
		FromCache:            true,
		CreatedAt:            row.CreatedAt,
	}
	if row.AnalysisConfidenceScore != nil {
		result.AnalysisConfidenceScore = *row.AnalysisConfidenceScore
	}
	if row.SessionQualityScore != nil {
		result.SessionQualityScore = *row.SessionQualityScore
	}
	if row.AngleAwareScore != nil {
		result.AngleAwareScore = *row.AngleAwareScore
	}
	result.AngleAwareLevel = VariationLevel(result.AngleAwareScore)

	byAngle := make(map[string]database.AngleAnalysisRow, len(angles))
	order := make([]string, 0, len(angles))
	for _, a := range angles {
		byAngle[a.AngleType] = a
		order = append(order, a.AngleType)
	}
	for _, angle := range sortAngles(order) {
		a := byAngle[angle]
		ar := AngleResult{
			AngleType:      a.AngleType,
			ChangeScore:    a.ChangeScore,
			VariationLevel: VariationLevel(a.ChangeScore),
			Summary:        a.Summary,
		}
		if a.AngleQualityScore != nil {
			ar.AngleQualityScore = *a.AngleQualityScore
		}
		result.Angles = append(result.Angles, ar)
	}

	// First-session status and layers reflect the history that existed when
	// the analysis was stored.
	prior, err := s.priorTo(ctx, userID, sessionID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	result.IsFirstSession = len(prior) == 0
	if result.IsFirstSession {
		result.Summary = summaryFirstSession
		return result, nil
	}
	result.Summary = fmt.Sprintf(summaryCompared, lowerLevel(result.VariationLevel), result.OverallChangeScore)
	result.BaselineUsed = constants.BaselineLifetimeMean

	baselines, err := ComputeBaselines(prior, s.cfg.RollingWindow, s.cfg.MonthlyWindowDays, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	result.ComparisonLayersUsed = baselines.LayersUsed()
	return result, nil
}

// priorTo lists the user's other session embeddings stored no later than t,
// newest first.
func (s *Service) priorTo(ctx context.Context, userID, excludeSessionID string, t time.Time) ([]database.StoredEmbedding, error) {
	all, err := s.store.ListSessionEmbeddings(ctx, userID, excludeSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	prior := all[:0]
	for _, e := range all {
		if !e.CreatedAt.After(t) {
			prior = append(prior, e)
		}
	}
	return prior, nil
}
