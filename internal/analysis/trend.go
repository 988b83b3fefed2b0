package analysis

import "gonum.org/v1/gonum/stat"

// TrendScore averages prior overall change scores. It returns nil when there
// is no prior score.
func TrendScore(recent []float64) *float64 {
	if len(recent) == 0 {
		return nil
	}
	v := stat.Mean(recent, nil)
	return &v
}
