package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
)

func TestComputeBaselines_NoHistory(t *testing.T) {
	b, err := ComputeBaselines(nil, 5, 30, time.Now())
	require.NoError(t, err)
	assert.Nil(t, b.Immediate)
	assert.Nil(t, b.Rolling)
	assert.Nil(t, b.Monthly)
	assert.Nil(t, b.Lifetime)
	assert.Empty(t, b.LayersUsed())
	assert.NotNil(t, b.LayersUsed())
}

func TestComputeBaselines_Windows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	// Newest first, as returned by the store.
	prior := []database.StoredEmbedding{
		{SessionID: "s4", Embedding: []float32{1, 0}, CreatedAt: now.Add(-1 * day)},
		{SessionID: "s3", Embedding: []float32{0, 1}, CreatedAt: now.Add(-10 * day)},
		{SessionID: "s2", Embedding: []float32{1, 1}, CreatedAt: now.Add(-40 * day)},
		{SessionID: "s1", Embedding: []float32{3, 3}, CreatedAt: now.Add(-90 * day)},
	}

	b, err := ComputeBaselines(prior, 2, 30, now)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, b.Immediate)
	assert.Equal(t, []float32{0.5, 0.5}, b.Rolling)
	assert.Equal(t, []float32{0.5, 0.5}, b.Monthly)
	assert.Equal(t, []float32{1.25, 1.25}, b.Lifetime)
	assert.Equal(t, []string{WindowImmediate, WindowRolling, WindowMonthly, WindowLifetime}, b.LayersUsed())
}

func TestComputeBaselines_MonthlyUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prior := []database.StoredEmbedding{
		{SessionID: "old", Embedding: []float32{1, 2}, CreatedAt: now.AddDate(0, -3, 0)},
	}

	b, err := ComputeBaselines(prior, 5, 30, now)
	require.NoError(t, err)
	assert.Nil(t, b.Monthly)
	require.NotNil(t, b.Lifetime)
	assert.Equal(t, []string{WindowImmediate, WindowRolling, WindowLifetime}, b.LayersUsed())
}

func TestComputeBaselines_DimensionMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prior := []database.StoredEmbedding{
		{SessionID: "new-model", Embedding: []float32{1, 0, 0}, CreatedAt: now.Add(-time.Hour)},
		{SessionID: "old-model", Embedding: []float32{1, 0}, CreatedAt: now.Add(-48 * time.Hour)},
	}

	_, err := ComputeBaselines(prior, 5, 30, now)
	require.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestAngleBaselines_DimensionMismatch(t *testing.T) {
	prior := []database.StoredEmbedding{
		{SessionID: "a", AngleType: "front", Embedding: []float32{1, 0, 0}},
		{SessionID: "b", AngleType: "front", Embedding: []float32{1, 0}},
	}

	_, err := angleBaselines(prior)
	require.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestTrendScore(t *testing.T) {
	assert.Nil(t, TrendScore(nil))

	got := TrendScore([]float64{0.1, 0.2, 0.3})
	require.NotNil(t, got)
	assert.InDelta(t, 0.2, *got, 1e-9)

	zero := TrendScore([]float64{0})
	require.NotNil(t, zero)
	assert.Zero(t, *zero)
}
