package analysis

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
)

// Compare contrasts two analyzed sessions of one user. Both sessions must
// have a stored analysis, otherwise ErrSessionNotAnalyzed is returned.
//
// The overall delta is the cosine distance of the two session embeddings.
// When either embedding is missing it falls back to the mean per-angle delta
// magnitude and Method reports "score". Baseline windows are built from all
// of the user's other sessions, the monthly one counted back from now.
func (s *Service) Compare(ctx context.Context, currentID, previousID, userID string) (*ComparisonResult, error) {
	current, err := s.storedAngles(ctx, currentID, userID)
	if err != nil {
		return nil, err
	}
	previous, err := s.storedAngles(ctx, previousID, userID)
	if err != nil {
		return nil, err
	}

	currentEmb, err := s.ownedSessionEmbedding(ctx, currentID, userID)
	if err != nil {
		return nil, err
	}
	previousEmb, err := s.ownedSessionEmbedding(ctx, previousID, userID)
	if err != nil {
		return nil, err
	}

	currentAngleEmb, err := s.store.GetAngleEmbeddings(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get angle embeddings of %s: %w", currentID, err)
	}
	previousAngleEmb, err := s.store.GetAngleEmbeddings(ctx, previousID)
	if err != nil {
		return nil, fmt.Errorf("failed to get angle embeddings of %s: %w", previousID, err)
	}

	result := &ComparisonResult{
		CurrentSessionID:  currentID,
		PreviousSessionID: previousID,
		Angles:            []AngleDelta{},
	}

	order := make([]string, 0, len(current))
	for angle := range current {
		order = append(order, angle)
	}
	var magnitudes []float64
	for _, angle := range sortAngles(order) {
		prev, ok := previous[angle]
		if !ok {
			continue
		}
		cur := current[angle]
		delta := cur.ChangeScore - prev.ChangeScore
		d := AngleDelta{
			AngleType:      angle,
			CurrentScore:   cur.ChangeScore,
			PreviousScore:  prev.ChangeScore,
			Delta:          delta,
			DeltaMagnitude: math.Abs(delta),
			VariationLevel: VariationLevel(math.Abs(delta)),
		}
		a, okA := currentAngleEmb[angle]
		b, okB := previousAngleEmb[angle]
		if okA && okB {
			dist := embedding.ChangeScore(a, b)
			d.EmbeddingDistance = &dist
		}
		magnitudes = append(magnitudes, d.DeltaMagnitude)
		result.Angles = append(result.Angles, d)
	}

	if currentEmb != nil && previousEmb != nil {
		result.Method = MethodEmbedding
		result.OverallDelta = embedding.ChangeScore(currentEmb.Embedding, previousEmb.Embedding)
	} else {
		result.Method = MethodScore
		if len(magnitudes) > 0 {
			result.OverallDelta = math.Min(1, stat.Mean(magnitudes, nil))
		}
	}
	result.OverallTrend = VariationLevel(result.OverallDelta)
	result.StabilityIndex = math.Max(0, 1-result.OverallDelta)

	if currentEmb == nil {
		return result, nil
	}
	others, err := s.store.ListSessionEmbeddings(ctx, userID, currentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	baselines, err := ComputeBaselines(others, s.cfg.RollingWindow, s.cfg.MonthlyWindowDays, s.now())
	if err != nil {
		return nil, err
	}
	if err := baselines.CheckDim(len(currentEmb.Embedding)); err != nil {
		return nil, err
	}
	result.Rolling = windowDelta(currentEmb.Embedding, baselines.Rolling)
	result.Monthly = windowDelta(currentEmb.Embedding, baselines.Monthly)
	result.Lifetime = windowDelta(currentEmb.Embedding, baselines.Lifetime)
	return result, nil
}

func windowDelta(current, baseline []float32) WindowDelta {
	if baseline == nil {
		return WindowDelta{}
	}
	d := embedding.ChangeScore(current, baseline)
	return WindowDelta{Delta: &d, Trend: VariationLevel(d), Available: true}
}

// storedAngles returns the stored per-angle results of an analyzed session.
func (s *Service) storedAngles(ctx context.Context, sessionID, userID string) (map[string]database.AngleAnalysisRow, error) {
	row, err := s.store.GetSessionAnalysis(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis of %s: %w", sessionID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotAnalyzed, sessionID)
	}
	angles, err := s.store.GetAngleAnalyses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get angle analyses of %s: %w", sessionID, err)
	}
	if len(angles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotAnalyzed, sessionID)
	}
	out := make(map[string]database.AngleAnalysisRow, len(angles))
	for _, a := range angles {
		out[NormalizeAngle(a.AngleType)] = a
	}
	return out, nil
}

// ownedSessionEmbedding returns nil when the embedding is missing or belongs
// to another user.
func (s *Service) ownedSessionEmbedding(ctx context.Context, sessionID, userID string) (*database.StoredEmbedding, error) {
	emb, err := s.store.GetSessionEmbedding(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session embedding of %s: %w", sessionID, err)
	}
	if emb == nil || emb.UserID != userID || len(emb.Embedding) == 0 {
		return nil, nil
	}
	return emb, nil
}
