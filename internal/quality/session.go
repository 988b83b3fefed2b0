package quality

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/variance-tracker/internal/constants"
)

// SessionQuality aggregates per-angle quality scores into one session score.
// The mean is scaled by angle coverage so incomplete sessions score lower even
// when every captured image is good.
func SessionQuality(angleScores map[string]float64, expectedAngles int) float64 {
	if len(angleScores) == 0 {
		return 0
	}
	scores := make([]float64, 0, len(angleScores))
	for _, s := range angleScores {
		scores = append(scores, s)
	}
	return Round(stat.Mean(scores, nil) * Coverage(len(scores), expectedAngles))
}

// Coverage returns the fraction of expected angles present, capped at 1.
func Coverage(present, expected int) float64 {
	if expected <= 0 {
		expected = constants.ExpectedAngleCount
	}
	return math.Min(1, float64(present)/float64(expected))
}

// ConsistencyScore measures how evenly change is spread across angles:
// 1 for identical scores, falling linearly to 0 at a standard deviation of
// 0.5. Fewer than two scores are consistent by definition.
func ConsistencyScore(changeScores []float64) float64 {
	if len(changeScores) < 2 {
		return 1
	}
	std := stat.PopStdDev(changeScores, nil)
	return Round(math.Max(0, 1-std/constants.MaxConsistencyStdDev))
}

// AnalysisConfidence combines session quality, consistency, angle coverage and
// history depth into a confidence score in [0, 1].
func AnalysisConfidence(sessionQuality, consistency float64, nAngles, expectedAngles int, firstSession bool) float64 {
	history := 1.0
	if firstSession {
		history = constants.FirstSessionHistoryFactor
	}

	confidence := constants.ConfidenceQualityWeight*sessionQuality +
		constants.ConfidenceConsistencyWeight*consistency +
		constants.ConfidenceCoverageWeight*Coverage(nAngles, expectedAngles) +
		constants.ConfidenceHistoryWeight*history
	return Round(clamp01(confidence))
}
