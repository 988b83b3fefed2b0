package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNoVectors is returned when aggregating an empty set.
	ErrNoVectors = errors.New("no vectors to aggregate")
	// ErrDimensionMismatch is returned when vectors of different length meet.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Mean returns the element-wise arithmetic mean of vectors. The result does
// not depend on the order of the inputs beyond floating point rounding.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	row := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		for j, x := range v {
			row[j] = float64(x)
		}
		floats.Add(sum, row)
	}
	floats.Scale(1/float64(len(vectors)), sum)

	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x)
	}
	return out, nil
}

// CosineDistance computes 1 - cos(a, b), in [0, 2].
// A zero vector or mismatched lengths yield 1.0 rather than NaN.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = math.Max(-1, math.Min(1, similarity))

	return 1 - similarity
}

// ChangeScore is the consumer-facing distance: cosine distance clamped to
// [0, 1]. Opposite vectors therefore score the same as orthogonal ones.
func ChangeScore(a, b []float32) float64 {
	return math.Min(1, math.Max(0, CosineDistance(a, b)))
}
