package analysis

import (
	"time"

	"github.com/kozaktomas/variance-tracker/internal/quality"
)

// ImageResult is the outcome of one image of a session.
type ImageResult struct {
	ImageID   string                `json:"image_id"`
	AngleType string                `json:"angle_type"`
	Quality   *quality.ImageQuality `json:"quality,omitempty"`
	Skipped   bool                  `json:"skipped"`
	Error     string                `json:"error,omitempty"`
}

// AngleResult is the change of one angle against the lifetime baseline.
type AngleResult struct {
	AngleType         string        `json:"angle_type"`
	ChangeScore       float64       `json:"change_score"`
	VariationLevel    string        `json:"variation_level"`
	AngleQualityScore float64       `json:"angle_quality_score"`
	AngleAwareScore   *float64      `json:"angle_aware_score,omitempty"`
	ImageCount        int           `json:"image_count"`
	AnalyzedCount     int           `json:"analyzed_count"`
	Summary           string        `json:"summary"`
	Images            []ImageResult `json:"images,omitempty"`
}

// AngleQuality is the per-angle entry of ImageQualitySummary.
type AngleQuality struct {
	QualityScore  float64 `json:"quality_score"`
	ImageCount    int     `json:"image_count"`
	AnalyzedCount int     `json:"analyzed_count"`
}

// ImageQualitySummary aggregates image quality over a session.
type ImageQualitySummary struct {
	SessionQualityScore float64                 `json:"session_quality_score"`
	MeanImageQuality    float64                 `json:"mean_image_quality"`
	TotalImages         int                     `json:"total_images"`
	AnalyzedImages      int                     `json:"analyzed_images"`
	SkippedImages       int                     `json:"skipped_images"`
	BlurryImages        int                     `json:"blurry_images"`
	DarkImages          int                     `json:"dark_images"`
	BrightImages        int                     `json:"bright_images"`
	Angles              map[string]AngleQuality `json:"angles"`
}

// SessionAnalysis is the result of analyzing one session.
type SessionAnalysis struct {
	SessionID               string               `json:"session_id"`
	UserID                  string               `json:"user_id"`
	Angles                  []AngleResult        `json:"angles"`
	OverallChangeScore      float64              `json:"overall_change_score"`
	VariationLevel          string               `json:"variation_level"`
	TrendScore              *float64             `json:"trend_score"`
	IsFirstSession          bool                 `json:"is_first_session"`
	AnalysisConfidenceScore float64              `json:"analysis_confidence_score"`
	SessionQualityScore     float64              `json:"session_quality_score"`
	AngleAwareScore         float64              `json:"angle_aware_score"`
	AngleAwareLevel         string               `json:"angle_aware_variation_level"`
	BaselineUsed            string               `json:"baseline_used"`
	ComparisonLayersUsed    []string             `json:"comparison_layers_used"`
	ImageQualitySummary     *ImageQualitySummary `json:"image_quality_summary,omitempty"`
	Summary                 string               `json:"summary"`
	AnalysisVersion         string               `json:"analysis_version"`
	ProcessingTimeMS        int64                `json:"processing_time_ms"`
	Overwritten             bool                 `json:"overwritten"`
	Persisted               bool                 `json:"persisted"`
	FromCache               bool                 `json:"from_cache"`
	CreatedAt               time.Time            `json:"created_at"`
}

// Angle returns the result of one angle, nil if the angle was not analyzed.
func (a *SessionAnalysis) Angle(angle string) *AngleResult {
	for i := range a.Angles {
		if a.Angles[i].AngleType == angle {
			return &a.Angles[i]
		}
	}
	return nil
}

// AngleDelta compares one angle across two sessions.
type AngleDelta struct {
	AngleType         string   `json:"angle_type"`
	CurrentScore      float64  `json:"current_score"`
	PreviousScore     float64  `json:"previous_score"`
	Delta             float64  `json:"delta"`
	DeltaMagnitude    float64  `json:"delta_magnitude"`
	VariationLevel    string   `json:"variation_level"`
	EmbeddingDistance *float64 `json:"embedding_distance,omitempty"`
}

// WindowDelta is the distance of the current session to one baseline window.
type WindowDelta struct {
	Delta     *float64 `json:"delta"`
	Trend     string   `json:"trend,omitempty"`
	Available bool     `json:"available"`
}

// Comparison methods.
const (
	MethodEmbedding = "embedding"
	MethodScore     = "score"
)

// ComparisonResult compares two analyzed sessions of the same user.
type ComparisonResult struct {
	CurrentSessionID  string       `json:"current_session_id"`
	PreviousSessionID string       `json:"previous_session_id"`
	Angles            []AngleDelta `json:"angles"`
	OverallDelta      float64      `json:"overall_delta"`
	OverallTrend      string       `json:"overall_trend"`
	StabilityIndex    float64      `json:"stability_index"`
	Method            string       `json:"method"`
	Rolling           WindowDelta  `json:"rolling"`
	Monthly           WindowDelta  `json:"monthly"`
	Lifetime          WindowDelta  `json:"lifetime"`
}

// SessionInfo places a session in the user's history.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	IsFirstSession bool      `json:"is_first_session"`
	IsCurrent      bool      `json:"is_current"`
	TotalSessions  int       `json:"total_sessions"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// SimilarSession is one neighbour returned by Similar.
type SimilarSession struct {
	SessionID      string    `json:"session_id"`
	Distance       float64   `json:"distance"`
	VariationLevel string    `json:"variation_level"`
	CreatedAt      time.Time `json:"created_at"`
}
