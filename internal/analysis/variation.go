package analysis

import "strings"

// Variation levels, ordered from least to most change.
const (
	LevelStable   = "Stable"
	LevelMild     = "Mild Variation"
	LevelModerate = "Moderate Variation"
	LevelHigher   = "Higher Variation"
	LevelStrong   = "Strong Variation"
)

// Upper bounds (exclusive) of the first four levels.
var variationBreakpoints = []struct {
	limit float64
	level string
}{
	{0.10, LevelStable},
	{0.25, LevelMild},
	{0.45, LevelModerate},
	{0.70, LevelHigher},
}

// Levels returns the variation labels in ascending order.
func Levels() []string {
	return []string{LevelStable, LevelMild, LevelModerate, LevelHigher, LevelStrong}
}

// VariationLevel maps a change score to its neutral label.
func VariationLevel(score float64) string {
	for _, b := range variationBreakpoints {
		if score < b.limit {
			return b.level
		}
	}
	return LevelStrong
}

// ForbiddenTerms are words no user-facing text may contain.
var ForbiddenTerms = []string{
	"risk",
	"abnormal",
	"suspicious",
	"concerning",
	"diagnosis",
	"disease",
	"cancer",
	"tumor",
	"malignant",
}

// ContainsForbiddenTerm reports whether text uses any forbidden term,
// ignoring case, and returns the first one found.
func ContainsForbiddenTerm(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, term := range ForbiddenTerms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}
