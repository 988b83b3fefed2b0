package analysis

import (
	"fmt"
	"time"

	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
)

// Baseline window names, in the order they are reported.
const (
	WindowImmediate = "immediate"
	WindowRolling   = "rolling"
	WindowMonthly   = "monthly"
	WindowLifetime  = "lifetime"
)

// Baselines are the reference embeddings of a user as of one session.
// A nil field means the window holds no prior session.
type Baselines struct {
	Immediate []float32
	Rolling   []float32
	Monthly   []float32
	Lifetime  []float32
}

// ComputeBaselines derives every window from prior session embeddings
// ordered newest first. The analyzed session must already be excluded.
// Prior embeddings of different dimensions fail with
// embedding.ErrDimensionMismatch: the history needs a re-baseline.
func ComputeBaselines(prior []database.StoredEmbedding, rollingN, monthlyDays int, now time.Time) (Baselines, error) {
	var b Baselines
	if len(prior) == 0 {
		return b, nil
	}

	var err error
	if b.Lifetime, err = meanOf(prior); err != nil {
		return Baselines{}, fmt.Errorf("lifetime baseline: %w", err)
	}
	b.Immediate = prior[0].Embedding

	if rollingN > 0 {
		if b.Rolling, err = meanOf(prior[:min(rollingN, len(prior))]); err != nil {
			return Baselines{}, fmt.Errorf("rolling baseline: %w", err)
		}
	}

	cutoff := now.AddDate(0, 0, -monthlyDays)
	var monthly []database.StoredEmbedding
	for _, e := range prior {
		if !e.CreatedAt.Before(cutoff) {
			monthly = append(monthly, e)
		}
	}
	if b.Monthly, err = meanOf(monthly); err != nil {
		return Baselines{}, fmt.Errorf("monthly baseline: %w", err)
	}

	return b, nil
}

// CheckDim fails with embedding.ErrDimensionMismatch when a stored window does
// not match the dimension of the embedding it is compared with.
func (b Baselines) CheckDim(dim int) error {
	for _, w := range [][]float32{b.Immediate, b.Rolling, b.Monthly, b.Lifetime} {
		if w != nil && len(w) != dim {
			return fmt.Errorf("%w: baseline has %d values, embedding %d", embedding.ErrDimensionMismatch, len(w), dim)
		}
	}
	return nil
}

// LayersUsed returns the names of the available windows.
func (b Baselines) LayersUsed() []string {
	layers := []string{}
	for _, w := range []struct {
		name string
		emb  []float32
	}{
		{WindowImmediate, b.Immediate},
		{WindowRolling, b.Rolling},
		{WindowMonthly, b.Monthly},
		{WindowLifetime, b.Lifetime},
	} {
		if w.emb != nil {
			layers = append(layers, w.name)
		}
	}
	return layers
}

// meanOf returns nil for an empty set.
func meanOf(rows []database.StoredEmbedding) ([]float32, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	vecs := make([][]float32, len(rows))
	for i, r := range rows {
		vecs[i] = r.Embedding
	}
	return embedding.Mean(vecs)
}

// angleBaselines groups prior angle embeddings by angle and averages each group.
func angleBaselines(prior []database.StoredEmbedding) (map[string][]float32, error) {
	groups := make(map[string][]database.StoredEmbedding)
	for _, e := range prior {
		angle := NormalizeAngle(e.AngleType)
		groups[angle] = append(groups[angle], e)
	}
	out := make(map[string][]float32, len(groups))
	for angle, rows := range groups {
		m, err := meanOf(rows)
		if err != nil {
			return nil, fmt.Errorf("%s angle baseline: %w", angle, err)
		}
		out[angle] = m
	}
	return out, nil
}
