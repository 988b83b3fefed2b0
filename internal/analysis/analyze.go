package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
	"github.com/kozaktomas/variance-tracker/internal/logger"
	"github.com/kozaktomas/variance-tracker/internal/quality"
)

// Summary sentences.
const (
	summaryFirstSession = "Baseline established. Future sessions will be compared to this."
	summaryCompared     = "Compared to your personal baseline, this session shows %s (score %.2f)."
)

// Request describes one analysis run.
type Request struct {
	SessionID string
	UserID    string
	// Images to analyze. When nil they are loaded from the store.
	Images []database.Image
	// Force re-runs the analysis even if a stored result exists.
	Force      bool
	OnProgress func(ProgressInfo)
}

// angleAggregate is the intermediate state of one angle.
type angleAggregate struct {
	angle     string
	embedding []float32
	quality   float64
	total     int
	analyzed  int
	images    []ImageResult
}

// Analyze computes and stores the analysis of a session. A stored result is
// returned as-is unless req.Force is set.
//
// All history is read before any image is processed, excluding the session
// itself, so rows written by a concurrent run for the same session never
// become part of its own baseline.
func (s *Service) Analyze(ctx context.Context, req Request) (*SessionAnalysis, error) {
	start := time.Now()
	log := logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"user_id":    req.UserID,
	})

	if !req.Force {
		cached, err := s.Cached(ctx, req.SessionID, req.UserID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			log.Debug("returning stored analysis")
			return cached, nil
		}
	}

	result, err := s.analyze(ctx, req, log)
	elapsed := time.Since(start).Milliseconds()

	entry := database.AnalysisLog{
		ID:               uuid.NewString(),
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		ProcessingTimeMS: elapsed,
		CreatedAt:        s.now(),
	}
	if err != nil {
		entry.Status = database.LogStatusFailed
		entry.Error = err.Error()
	} else {
		entry.Status = database.LogStatusCompleted
		confidence := result.AnalysisConfidenceScore
		entry.ConfidenceScore = &confidence
		result.ProcessingTimeMS = elapsed
	}
	if logErr := s.store.SaveAnalysisLog(context.WithoutCancel(ctx), entry); logErr != nil {
		log.WithError(logErr).Warn("failed to save analysis log")
	}

	if err != nil {
		log.WithError(err).Error("analysis failed")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"duration_ms":          elapsed,
		"overall_change_score": result.OverallChangeScore,
		"is_first_session":     result.IsFirstSession,
		"persisted":            result.Persisted,
	}).Info("analysis completed")
	return result, nil
}

func (s *Service) analyze(ctx context.Context, req Request, log *logrus.Entry) (*SessionAnalysis, error) {
	images := req.Images
	if images == nil {
		var err error
		images, err = s.store.ListImages(ctx, req.SessionID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}
	}
	if len(images) == 0 {
		return nil, ErrNoUsableImages
	}

	priorSessions, err := s.store.ListSessionEmbeddings(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	priorAngles, err := s.store.ListAngleEmbeddings(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load angle history: %w", err)
	}
	recent, err := s.store.RecentChangeScores(ctx, req.UserID, req.SessionID, s.cfg.TrendWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent scores: %w", err)
	}

	outcomes, err := s.processImages(ctx, images, req.OnProgress)
	if err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		if s.cfg.FailOnImageError {
			return nil, o.err
		}
		log.WithError(o.err).WithField("angle", o.angle).Warn("skipping image")
	}

	aggregates, summary, err := aggregateAngles(outcomes)
	if err != nil {
		return nil, err
	}

	angleEmbeddings := make(map[string][]float32, len(aggregates))
	vectors := make([][]float32, len(aggregates))
	for i, a := range aggregates {
		angleEmbeddings[a.angle] = a.embedding
		vectors[i] = a.embedding
	}
	sessionEmbedding, err := embedding.Mean(vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate session embedding: %w", err)
	}

	now := s.now()
	isFirst := len(priorSessions) == 0
	baselines, err := ComputeBaselines(priorSessions, s.cfg.RollingWindow, s.cfg.MonthlyWindowDays, now)
	if err != nil {
		return nil, err
	}
	if err := baselines.CheckDim(len(sessionEmbedding)); err != nil {
		return nil, err
	}
	priorByAngle, err := angleBaselines(priorAngles)
	if err != nil {
		return nil, err
	}

	result := &SessionAnalysis{
		SessionID:            req.SessionID,
		UserID:               req.UserID,
		IsFirstSession:       isFirst,
		BaselineUsed:         constants.BaselineNone,
		ComparisonLayersUsed: []string{},
		AnalysisVersion:      constants.AnalysisVersion,
		CreatedAt:            now,
	}

	angleQuality := make(map[string]float64, len(aggregates))
	changeScores := make([]float64, 0, len(aggregates))
	var angleAware []float64

	for _, a := range aggregates {
		ar := AngleResult{
			AngleType:         a.angle,
			AngleQualityScore: quality.Round(a.quality),
			ImageCount:        a.total,
			AnalyzedCount:     a.analyzed,
			Images:            a.images,
		}
		if !isFirst {
			ar.ChangeScore = embedding.ChangeScore(a.embedding, baselines.Lifetime)
			if prior, ok := priorByAngle[a.angle]; ok {
				if len(prior) != len(a.embedding) {
					return nil, fmt.Errorf("%w: %s angle history has %d values, embedding %d",
						embedding.ErrDimensionMismatch, a.angle, len(prior), len(a.embedding))
				}
				v := embedding.ChangeScore(a.embedding, prior)
				ar.AngleAwareScore = &v
				angleAware = append(angleAware, v)
			}
		}
		ar.VariationLevel = VariationLevel(ar.ChangeScore)
		ar.Summary = angleSummary(ar, isFirst)

		angleQuality[a.angle] = a.quality
		changeScores = append(changeScores, ar.ChangeScore)
		result.Angles = append(result.Angles, ar)
	}

	if !isFirst {
		result.OverallChangeScore = embedding.ChangeScore(sessionEmbedding, baselines.Lifetime)
		result.TrendScore = TrendScore(recent)
		result.BaselineUsed = constants.BaselineLifetimeMean
		result.ComparisonLayersUsed = baselines.LayersUsed()
		if len(angleAware) > 0 {
			result.AngleAwareScore = stat.Mean(angleAware, nil)
		}
	}
	result.VariationLevel = VariationLevel(result.OverallChangeScore)
	result.AngleAwareLevel = VariationLevel(result.AngleAwareScore)

	sessionQuality := quality.SessionQuality(angleQuality, s.cfg.ExpectedAngles)
	consistency := quality.ConsistencyScore(changeScores)
	result.SessionQualityScore = quality.Round(sessionQuality)
	result.AnalysisConfidenceScore = quality.Round(
		quality.AnalysisConfidence(sessionQuality, consistency, len(aggregates), s.cfg.ExpectedAngles, isFirst))

	summary.SessionQualityScore = result.SessionQualityScore
	result.ImageQualitySummary = summary

	if isFirst {
		result.Summary = summaryFirstSession
	} else {
		result.Summary = fmt.Sprintf(summaryCompared, lowerLevel(result.VariationLevel), result.OverallChangeScore)
	}

	overwritten, err := s.persist(ctx, result, angleEmbeddings, sessionEmbedding)
	if err != nil {
		// The computed result is still returned to the caller.
		log.WithError(err).Error("failed to persist analysis")
	} else {
		result.Persisted = true
		result.Overwritten = overwritten
	}
	return result, nil
}

// aggregateAngles averages the image embeddings of each angle. Failed images
// lower the angle quality by the share of images that could be analyzed.
func aggregateAngles(outcomes []imageOutcome) ([]angleAggregate, *ImageQualitySummary, error) {
	summary := &ImageQualitySummary{
		TotalImages: len(outcomes),
		Angles:      make(map[string]AngleQuality),
	}

	byAngle := make(map[string][]imageOutcome)
	var order []string
	for _, o := range outcomes {
		if o.angle == "" {
			summary.SkippedImages++
			continue
		}
		if _, ok := byAngle[o.angle]; !ok {
			order = append(order, o.angle)
		}
		byAngle[o.angle] = append(byAngle[o.angle], o)
	}

	var aggregates []angleAggregate
	var imageScores []float64
	for _, angle := range sortAngles(order) {
		group := byAngle[angle]
		agg := angleAggregate{angle: angle, total: len(group)}

		var vectors [][]float32
		var scores []float64
		for _, o := range group {
			ir := ImageResult{ImageID: o.image.ID, AngleType: angle}
			if o.err != nil {
				ir.Skipped = true
				ir.Error = o.err.Error()
				summary.SkippedImages++
				agg.images = append(agg.images, ir)
				continue
			}
			q := o.quality
			ir.Quality = &q
			agg.images = append(agg.images, ir)

			vectors = append(vectors, o.embedding)
			scores = append(scores, q.QualityScore)
			summary.AnalyzedImages++
			if q.IsBlurry {
				summary.BlurryImages++
			}
			if q.IsTooDark {
				summary.DarkImages++
			}
			if q.IsTooBright {
				summary.BrightImages++
			}
		}
		agg.analyzed = len(vectors)

		if agg.analyzed == 0 {
			summary.Angles[angle] = AngleQuality{ImageCount: agg.total}
			continue
		}

		mean, err := embedding.Mean(vectors)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to aggregate angle %s: %w", angle, err)
		}
		agg.embedding = mean
		agg.quality = stat.Mean(scores, nil) * float64(agg.analyzed) / float64(agg.total)
		imageScores = append(imageScores, scores...)

		summary.Angles[angle] = AngleQuality{
			QualityScore:  quality.Round(agg.quality),
			ImageCount:    agg.total,
			AnalyzedCount: agg.analyzed,
		}
		aggregates = append(aggregates, agg)
	}

	if len(aggregates) == 0 {
		return nil, nil, ErrNoUsableImages
	}
	summary.MeanImageQuality = quality.Round(stat.Mean(imageScores, nil))
	return aggregates, summary, nil
}

// persist replaces every stored row of the session with the new result.
func (s *Service) persist(ctx context.Context, result *SessionAnalysis, angleEmbeddings map[string][]float32, sessionEmbedding []float32) (bool, error) {
	if err := s.store.ReplaceAngleEmbeddings(ctx, result.SessionID, result.UserID, angleEmbeddings); err != nil {
		return false, fmt.Errorf("failed to store angle embeddings: %w", err)
	}
	if err := s.store.ReplaceSessionEmbedding(ctx, result.SessionID, result.UserID, sessionEmbedding); err != nil {
		return false, fmt.Errorf("failed to store session embedding: %w", err)
	}

	confidence := result.AnalysisConfidenceScore
	sessionQuality := result.SessionQualityScore
	angleAware := result.AngleAwareScore
	row := database.SessionAnalysisRow{
		SessionID:               result.SessionID,
		UserID:                  result.UserID,
		OverallChangeScore:      result.OverallChangeScore,
		TrendScore:              result.TrendScore,
		AnalysisConfidenceScore: &confidence,
		SessionQualityScore:     &sessionQuality,
		AngleAwareScore:         &angleAware,
	}

	angles := make([]database.AngleAnalysisRow, len(result.Angles))
	for i, a := range result.Angles {
		q := a.AngleQualityScore
		angles[i] = database.AngleAnalysisRow{
			SessionID:         result.SessionID,
			UserID:            result.UserID,
			AngleType:         a.AngleType,
			ChangeScore:       a.ChangeScore,
			Summary:           a.Summary,
			AngleQualityScore: &q,
		}
	}

	overwritten, err := s.store.ReplaceAnalysis(ctx, row, angles)
	if err != nil {
		return false, fmt.Errorf("failed to store analysis: %w", err)
	}
	return overwritten, nil
}

func angleSummary(a AngleResult, first bool) string {
	if first {
		return fmt.Sprintf("Baseline established for the %s angle.", a.AngleType)
	}
	return fmt.Sprintf("The %s angle shows %s compared to your baseline.", a.AngleType, lowerLevel(a.VariationLevel))
}

// lowerLevel phrases a variation level inside a sentence.
func lowerLevel(level string) string {
	switch level {
	case LevelStable:
		return "a stable appearance"
	case LevelMild:
		return "mild variation"
	case LevelModerate:
		return "moderate variation"
	case LevelHigher:
		return "higher variation"
	default:
		return "strong variation"
	}
}
