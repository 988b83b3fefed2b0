package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/database/mock"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
)

const testUser = "user-1"

var errMissingObject = errors.New("object not found")

// memSource serves image bytes from memory.
type memSource struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemSource() *memSource {
	return &memSource{objects: make(map[string][]byte)}
}

func (m *memSource) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
}

func (m *memSource) Download(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errMissingObject, path)
	}
	return data, nil
}

// patternPNG renders a textured image with a bright centered subject. The
// seed changes the texture so different seeds yield different embeddings.
func patternPNG(t *testing.T, seed int) []byte {
	t.Helper()
	const w, h = 96, 96
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8((x*7 + y*13 + seed*31) % 256)
			c := color.NRGBA{R: v / 2, G: v / 3, B: v / 4, A: 255}
			if x > 30 && x < 66 && y > 15 && y < 81 {
				c = color.NRGBA{R: 200, G: uint8(120 + seed%50), B: uint8((x + y + seed) % 256), A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testEnv struct {
	store   *mock.Store
	source  *memSource
	service *Service
}

func newTestEnv(t *testing.T, cfg config.AnalysisConfig) *testEnv {
	t.Helper()
	if cfg.TargetSize == 0 {
		cfg.TargetSize = 64
		cfg.IntermediateSize = 96
	}
	if cfg.ImageWorkers == 0 {
		cfg.ImageWorkers = 2
	}
	store := mock.NewStore()
	source := newMemSource()
	return &testEnv{
		store:   store,
		source:  source,
		service: NewService(store, source, embedding.NewHashExtractor(512), cfg),
	}
}

// addSession stores a completed session with one image per angle, rendered
// from seedBase plus the angle index.
func (e *testEnv) addSession(t *testing.T, sessionID string, angles []string, seedBase int) []database.Image {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.SaveSession(ctx, database.Session{
		ID:     sessionID,
		UserID: testUser,
		Status: database.SessionStatusCompleted,
	}))

	var images []database.Image
	for i, angle := range angles {
		img := database.Image{
			ID:          fmt.Sprintf("%s-%s", sessionID, angle),
			SessionID:   sessionID,
			UserID:      testUser,
			AngleType:   angle,
			StoragePath: fmt.Sprintf("%s/%s.png", sessionID, angle),
		}
		e.source.Put(img.StoragePath, patternPNG(t, seedBase+i))
		require.NoError(t, e.store.SaveImage(ctx, img))
		images = append(images, img)
	}
	return images
}

func (e *testEnv) analyze(t *testing.T, sessionID string) *SessionAnalysis {
	t.Helper()
	res, err := e.service.Analyze(context.Background(), Request{SessionID: sessionID, UserID: testUser, Force: true})
	require.NoError(t, err)
	return res
}

func TestAnalyze_FirstSession(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)

	res := env.analyze(t, "s1")

	assert.True(t, res.IsFirstSession)
	assert.Zero(t, res.OverallChangeScore)
	assert.Equal(t, LevelStable, res.VariationLevel)
	assert.Nil(t, res.TrendScore)
	assert.Equal(t, constants.BaselineNone, res.BaselineUsed)
	assert.Empty(t, res.ComparisonLayersUsed)
	assert.Zero(t, res.AngleAwareScore)
	assert.Equal(t, summaryFirstSession, res.Summary)
	assert.Equal(t, constants.AnalysisVersion, res.AnalysisVersion)
	assert.True(t, res.Persisted)
	assert.False(t, res.Overwritten)

	require.Len(t, res.Angles, 6)
	for i, a := range res.Angles {
		assert.Equal(t, constants.RequiredAngles[i], a.AngleType)
		assert.Zero(t, a.ChangeScore)
		assert.Nil(t, a.AngleAwareScore)
		assert.Equal(t, 1, a.AnalyzedCount)
	}

	require.NotNil(t, res.ImageQualitySummary)
	assert.Equal(t, 6, res.ImageQualitySummary.TotalImages)
	assert.Equal(t, 6, res.ImageQualitySummary.AnalyzedImages)
	assert.Greater(t, res.AnalysisConfidenceScore, 0.0)
	assert.LessOrEqual(t, res.AnalysisConfidenceScore, 1.0)

	logs, err := env.store.ListAnalysisLogs(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, database.LogStatusCompleted, logs[0].Status)
	assert.NotEmpty(t, logs[0].ID)
}

func TestAnalyze_SecondIdenticalSession(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 0)

	first := env.analyze(t, "s1")
	env.store.SetSessionEmbeddingTime("s1", time.Now().Add(-24*time.Hour))
	second := env.analyze(t, "s2")

	assert.False(t, second.IsFirstSession)
	assert.InDelta(t, 0, second.OverallChangeScore, 1e-6)
	assert.Equal(t, LevelStable, second.VariationLevel)
	assert.Equal(t, constants.BaselineLifetimeMean, second.BaselineUsed)
	assert.Contains(t, second.ComparisonLayersUsed, WindowImmediate)
	assert.InDelta(t, 0, second.AngleAwareScore, 1e-6)
	assert.Equal(t, LevelStable, second.AngleAwareLevel)

	require.NotNil(t, second.TrendScore)
	assert.InDelta(t, first.OverallChangeScore, *second.TrendScore, 1e-9)

	// A returning user with the same images is scored with more confidence.
	assert.Greater(t, second.AnalysisConfidenceScore, first.AnalysisConfidenceScore)
}

func TestAnalyze_DifferentSessionShowsVariation(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 100)

	env.analyze(t, "s1")
	res := env.analyze(t, "s2")

	assert.Greater(t, res.OverallChangeScore, 0.70)
	assert.Equal(t, LevelStrong, res.VariationLevel)
	for _, a := range res.Angles {
		require.NotNil(t, a.AngleAwareScore, a.AngleType)
		assert.Greater(t, *a.AngleAwareScore, 0.5)
	}
	_, forbidden := ContainsForbiddenTerm(res.Summary)
	assert.False(t, forbidden)
}

func TestAnalyze_Idempotent(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)

	env.analyze(t, "s1")
	before := env.store.AngleEmbeddingRows("s1")
	sessionBefore, err := env.store.GetSessionEmbedding(context.Background(), "s1")
	require.NoError(t, err)

	second := env.analyze(t, "s1")
	after := env.store.AngleEmbeddingRows("s1")
	sessionAfter, err := env.store.GetSessionEmbedding(context.Background(), "s1")
	require.NoError(t, err)

	assert.True(t, second.Overwritten)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].AngleType, after[i].AngleType)
		assert.Equal(t, before[i].Embedding, after[i].Embedding)
	}
	assert.Equal(t, sessionBefore.Embedding, sessionAfter.Embedding)
}

func TestAnalyze_ReturnsCachedUnlessForced(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	fresh := env.analyze(t, "s1")

	cached, err := env.service.Analyze(context.Background(), Request{SessionID: "s1", UserID: testUser})
	require.NoError(t, err)

	assert.True(t, cached.FromCache)
	assert.True(t, cached.IsFirstSession)
	assert.Equal(t, fresh.AnalysisConfidenceScore, cached.AnalysisConfidenceScore)
	assert.Equal(t, fresh.SessionQualityScore, cached.SessionQualityScore)
	require.Len(t, cached.Angles, len(fresh.Angles))
	for i := range fresh.Angles {
		assert.Equal(t, fresh.Angles[i].AngleType, cached.Angles[i].AngleType)
		assert.Equal(t, fresh.Angles[i].AngleQualityScore, cached.Angles[i].AngleQualityScore)
	}

	logs, err := env.store.ListAnalysisLogs(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, logs, 1, "cached result must not log a new run")
}

func TestAnalyze_PartialCoveragePenalized(t *testing.T) {
	full := newTestEnv(t, config.AnalysisConfig{})
	full.addSession(t, "s1", constants.RequiredAngles, 0)
	fullRes := full.analyze(t, "s1")

	partial := newTestEnv(t, config.AnalysisConfig{})
	partial.addSession(t, "s1", constants.RequiredAngles[:3], 0)
	partialRes := partial.analyze(t, "s1")

	require.Len(t, partialRes.Angles, 3)
	assert.Less(t, partialRes.SessionQualityScore, fullRes.SessionQualityScore)
	assert.Less(t, partialRes.AnalysisConfidenceScore, fullRes.AnalysisConfidenceScore)
}

func TestAnalyze_SkipsUnreadableImage(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	images := env.addSession(t, "s1", constants.RequiredAngles, 0)

	// A second front image that cannot be downloaded.
	broken := database.Image{
		ID:          "s1-front-2",
		SessionID:   "s1",
		UserID:      testUser,
		AngleType:   constants.AngleFront,
		StoragePath: "s1/missing.png",
	}
	images = append(images, broken)

	res, err := env.service.Analyze(context.Background(), Request{SessionID: "s1", UserID: testUser, Images: images, Force: true})
	require.NoError(t, err)

	summary := res.ImageQualitySummary
	require.NotNil(t, summary)
	assert.Equal(t, 7, summary.TotalImages)
	assert.Equal(t, 6, summary.AnalyzedImages)
	assert.Equal(t, 1, summary.SkippedImages)

	front := res.Angle(constants.AngleFront)
	require.NotNil(t, front)
	assert.Equal(t, 2, front.ImageCount)
	assert.Equal(t, 1, front.AnalyzedCount)
	assert.Equal(t, summary.Angles[constants.AngleFront].QualityScore, front.AngleQualityScore)

	// The front angle counts half of its single good image's quality.
	clean := newTestEnv(t, config.AnalysisConfig{})
	clean.addSession(t, "s1", constants.RequiredAngles, 0)
	cleanFront := clean.analyze(t, "s1").Angle(constants.AngleFront)
	assert.InDelta(t, cleanFront.AngleQualityScore/2, front.AngleQualityScore, 1e-3)
}

func TestAnalyze_SkipsUnlabeledImage(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	images := env.addSession(t, "s1", constants.RequiredAngles[:3], 0)
	unlabeled := database.Image{
		ID:          "s1-none",
		SessionID:   "s1",
		UserID:      testUser,
		StoragePath: "s1/none.png",
	}
	env.source.Put(unlabeled.StoragePath, patternPNG(t, 42))
	images = append(images, unlabeled)

	res, err := env.service.Analyze(context.Background(), Request{SessionID: "s1", UserID: testUser, Images: images, Force: true})
	require.NoError(t, err)

	require.Len(t, res.Angles, 3)
	summary := res.ImageQualitySummary
	assert.Equal(t, 4, summary.TotalImages)
	assert.Equal(t, 3, summary.AnalyzedImages)
	assert.Equal(t, 1, summary.SkippedImages)
	assert.NotContains(t, summary.Angles, "")
	assert.NotContains(t, summary.Angles, "unknown")

	full := newTestEnv(t, config.AnalysisConfig{})
	full.addSession(t, "s1", constants.RequiredAngles[:3], 0)
	assert.Equal(t, full.analyze(t, "s1").SessionQualityScore, res.SessionQualityScore,
		"an unlabeled image must not add coverage")
}

func TestAnalyze_FailOnImageError(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{FailOnImageError: true})
	images := env.addSession(t, "s1", constants.RequiredAngles, 0)
	images[2].StoragePath = "s1/missing.png"

	_, err := env.service.Analyze(context.Background(), Request{SessionID: "s1", UserID: testUser, Images: images, Force: true})
	require.ErrorIs(t, err, errMissingObject)

	logs, err := env.store.ListAnalysisLogs(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, database.LogStatusFailed, logs[0].Status)
	assert.NotEmpty(t, logs[0].Error)

	row, err := env.store.GetSessionAnalysis(context.Background(), "s1", testUser)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestAnalyze_NoUsableImages(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	images := env.addSession(t, "s1", constants.RequiredAngles[:3], 0)
	for i := range images {
		images[i].StoragePath = "missing"
	}

	_, err := env.service.Analyze(context.Background(), Request{SessionID: "s1", UserID: testUser, Images: images, Force: true})
	assert.ErrorIs(t, err, ErrNoUsableImages)

	_, err = env.service.Analyze(context.Background(), Request{SessionID: "empty", UserID: testUser, Force: true})
	assert.ErrorIs(t, err, ErrNoUsableImages)
}

func TestAnalyze_Canceled(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.service.Analyze(ctx, Request{SessionID: "s1", UserID: testUser, Force: true})
	require.ErrorIs(t, err, context.Canceled)

	emb, err := env.store.GetSessionEmbedding(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, emb)
}

func TestAnalyze_PersistenceFailureKeepsResult(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.store.ReplaceAnalysisError = errors.New("column does not exist")

	res := env.analyze(t, "s1")
	assert.False(t, res.Persisted)
	assert.Len(t, res.Angles, 6)
	assert.True(t, res.IsFirstSession)
}

func TestAnalyze_ReducedSchemaShape(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.store.SetCapabilities(database.SchemaCapabilities{SessionRow: database.SessionRowBare})
	env.addSession(t, "s1", constants.RequiredAngles, 0)

	res := env.analyze(t, "s1")
	require.True(t, res.Persisted)

	row, err := env.store.GetSessionAnalysis(context.Background(), "s1", testUser)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.AnalysisConfidenceScore)
	assert.Nil(t, row.TrendScore)

	angles, err := env.store.GetAngleAnalyses(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, angles, 6)
	assert.Nil(t, angles[0].AngleQualityScore)
}

func TestCached_ReducedSchemaReturningSession(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.store.SetCapabilities(database.SchemaCapabilities{SessionRow: database.SessionRowBare})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 0)
	env.analyze(t, "s1")
	fresh := env.analyze(t, "s2")
	require.False(t, fresh.IsFirstSession)

	cached, err := env.service.Cached(context.Background(), "s2", testUser)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Nil(t, cached.TrendScore)
	assert.InDelta(t, 0, cached.OverallChangeScore, 1e-6)
	assert.False(t, cached.IsFirstSession)
	assert.Equal(t, constants.BaselineLifetimeMean, cached.BaselineUsed)
	assert.Equal(t, fresh.ComparisonLayersUsed, cached.ComparisonLayersUsed)
	assert.Equal(t, fresh.Summary, cached.Summary)

	first, err := env.service.Cached(context.Background(), "s1", testUser)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.IsFirstSession)
	assert.Equal(t, constants.BaselineNone, first.BaselineUsed)
	assert.Empty(t, first.ComparisonLayersUsed)
}

func TestAnalyze_ReportsProgress(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{ImageWorkers: 3})
	env.addSession(t, "s1", constants.RequiredAngles, 0)

	var mu sync.Mutex
	var seen []int
	_, err := env.service.Analyze(context.Background(), Request{
		SessionID: "s1",
		UserID:    testUser,
		Force:     true,
		OnProgress: func(p ProgressInfo) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 6, p.Total)
			seen = append(seen, p.Current)
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

func TestPrepare(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "full", constants.RequiredAngles, 0)
	env.addSession(t, "thin", []string{constants.AngleFront, constants.AngleLeft}, 0)
	require.NoError(t, env.store.SaveSession(context.Background(), database.Session{
		ID: "open", UserID: testUser, Status: database.SessionStatusInProgress,
	}))
	ctx := context.Background()

	p, err := env.service.Prepare(ctx, "full", testUser)
	require.NoError(t, err)
	assert.Len(t, p.Present, 6)
	assert.Empty(t, p.Missing)

	_, err = env.service.Prepare(ctx, "nope", testUser)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = env.service.Prepare(ctx, "full", "someone-else")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = env.service.Prepare(ctx, "open", testUser)
	assert.ErrorIs(t, err, ErrSessionNotCompleted)

	_, err = env.service.Prepare(ctx, "thin", testUser)
	require.ErrorIs(t, err, ErrTooFewAngles)
	var coverage *AngleCoverageError
	require.ErrorAs(t, err, &coverage)
	assert.Equal(t, []string{"front", "left"}, coverage.Present)
	assert.Equal(t, []string{"right", "up", "down", "raised"}, coverage.Missing)
	assert.Equal(t, constants.MinAngleCount, coverage.Min)
}

func TestCompare(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 0)
	env.addSession(t, "s3", constants.RequiredAngles, 100)
	ctx := context.Background()

	env.analyze(t, "s1")
	env.store.SetSessionEmbeddingTime("s1", time.Now().Add(-48*time.Hour))
	env.analyze(t, "s2")
	env.store.SetSessionEmbeddingTime("s2", time.Now().Add(-24*time.Hour))

	t.Run("identical sessions", func(t *testing.T) {
		res, err := env.service.Compare(ctx, "s2", "s1", testUser)
		require.NoError(t, err)
		assert.Equal(t, MethodEmbedding, res.Method)
		assert.InDelta(t, 0, res.OverallDelta, 1e-6)
		assert.InDelta(t, 1, res.StabilityIndex, 1e-6)
		assert.Equal(t, LevelStable, res.OverallTrend)
		require.Len(t, res.Angles, 6)
		for _, a := range res.Angles {
			require.NotNil(t, a.EmbeddingDistance)
			assert.InDelta(t, 0, *a.EmbeddingDistance, 1e-6)
		}

		require.True(t, res.Lifetime.Available)
		assert.InDelta(t, 0, *res.Lifetime.Delta, 1e-6)
		assert.True(t, res.Rolling.Available)
		assert.True(t, res.Monthly.Available)
	})

	t.Run("earliest session uses later sessions", func(t *testing.T) {
		res, err := env.service.Compare(ctx, "s1", "s2", testUser)
		require.NoError(t, err)
		require.True(t, res.Lifetime.Available)
		assert.InDelta(t, 0, *res.Lifetime.Delta, 1e-6)
		assert.True(t, res.Rolling.Available)
		assert.True(t, res.Monthly.Available)
	})

	t.Run("changed session", func(t *testing.T) {
		env.analyze(t, "s3")
		res, err := env.service.Compare(ctx, "s3", "s2", testUser)
		require.NoError(t, err)
		assert.Greater(t, res.OverallDelta, 0.7)
		assert.Equal(t, LevelStrong, res.OverallTrend)
		assert.Less(t, res.StabilityIndex, 0.3)
		for _, a := range res.Angles {
			assert.InDelta(t, a.CurrentScore-a.PreviousScore, a.Delta, 1e-12)
			assert.GreaterOrEqual(t, a.DeltaMagnitude, 0.0)
		}
	})

	t.Run("missing analysis", func(t *testing.T) {
		env.addSession(t, "s4", constants.RequiredAngles, 0)
		_, err := env.service.Compare(ctx, "s4", "s1", testUser)
		assert.ErrorIs(t, err, ErrSessionNotAnalyzed)

		_, err = env.service.Compare(ctx, "s1", "s4", testUser)
		assert.ErrorIs(t, err, ErrSessionNotAnalyzed)

		_, err = env.service.Compare(ctx, "s2", "s1", "someone-else")
		assert.ErrorIs(t, err, ErrSessionNotAnalyzed)
	})
}

func TestCompare_MonthlyWindowCountsBackFromNow(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	env.service.SetClock(func() time.Time { return now })
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 0)
	ctx := context.Background()

	env.analyze(t, "s1")
	env.analyze(t, "s2")
	env.store.SetSessionEmbeddingTime("s1", now.AddDate(0, 0, -70))
	env.store.SetSessionEmbeddingTime("s2", now.AddDate(0, 0, -60))

	res, err := env.service.Compare(ctx, "s2", "s1", testUser)
	require.NoError(t, err)
	assert.True(t, res.Lifetime.Available)
	assert.True(t, res.Rolling.Available)
	assert.False(t, res.Monthly.Available, "s1 is older than 30 days")
	assert.Nil(t, res.Monthly.Delta)
}

func TestAnalyze_DimensionMismatch(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 0)
	ctx := context.Background()

	env.analyze(t, "s1")
	env.analyze(t, "s2")
	// s1 as stored by an extractor of another dimension.
	require.NoError(t, env.store.ReplaceSessionEmbedding(ctx, "s1", testUser, []float32{1, 0, 0}))

	_, err := env.service.Analyze(ctx, Request{SessionID: "s2", UserID: testUser, Force: true})
	require.ErrorIs(t, err, embedding.ErrDimensionMismatch)

	_, err = env.service.Compare(ctx, "s2", "s1", testUser)
	require.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestCompare_ScoreFallback(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	ctx := context.Background()

	// Stored analyses without embeddings, as left by an older deployment.
	_, err := env.store.ReplaceAnalysis(ctx,
		database.SessionAnalysisRow{SessionID: "a", UserID: testUser, OverallChangeScore: 0.3},
		[]database.AngleAnalysisRow{
			{SessionID: "a", UserID: testUser, AngleType: "front", ChangeScore: 0.3},
			{SessionID: "a", UserID: testUser, AngleType: "left", ChangeScore: 0.1},
			{SessionID: "a", UserID: testUser, AngleType: "up", ChangeScore: 0.5},
		})
	require.NoError(t, err)
	_, err = env.store.ReplaceAnalysis(ctx,
		database.SessionAnalysisRow{SessionID: "b", UserID: testUser, OverallChangeScore: 0.2},
		[]database.AngleAnalysisRow{
			{SessionID: "b", UserID: testUser, AngleType: "front", ChangeScore: 0.1},
			{SessionID: "b", UserID: testUser, AngleType: "left", ChangeScore: 0.2},
		})
	require.NoError(t, err)

	res, err := env.service.Compare(ctx, "a", "b", testUser)
	require.NoError(t, err)

	assert.Equal(t, MethodScore, res.Method)
	require.Len(t, res.Angles, 2, "angles missing from the previous session are skipped")
	assert.Equal(t, "front", res.Angles[0].AngleType)
	assert.InDelta(t, 0.2, res.Angles[0].Delta, 1e-9)
	assert.InDelta(t, -0.1, res.Angles[1].Delta, 1e-9)
	assert.Nil(t, res.Angles[0].EmbeddingDistance)
	assert.InDelta(t, 0.15, res.OverallDelta, 1e-9)
	assert.InDelta(t, 0.85, res.StabilityIndex, 1e-9)
	assert.Equal(t, LevelMild, res.OverallTrend)
	assert.False(t, res.Lifetime.Available)
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.SaveSession(ctx, database.Session{ID: "s1", UserID: testUser, Status: database.SessionStatusCompleted, CreatedAt: base}))

	info, err := env.service.Info(ctx, "s1", testUser)
	require.NoError(t, err)
	assert.True(t, info.IsFirstSession)
	assert.True(t, info.IsCurrent)
	assert.Equal(t, 1, info.TotalSessions)

	require.NoError(t, env.store.SaveSession(ctx, database.Session{ID: "s2", UserID: testUser, Status: database.SessionStatusCompleted, CreatedAt: base.Add(time.Hour)}))

	info, err = env.service.Info(ctx, "s1", testUser)
	require.NoError(t, err)
	assert.False(t, info.IsFirstSession)
	assert.False(t, info.IsCurrent)
	assert.Equal(t, 2, info.TotalSessions)
	assert.True(t, base.Equal(info.CreatedAt))

	_, err = env.service.Info(ctx, "s1", "someone-else")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSimilar(t *testing.T) {
	env := newTestEnv(t, config.AnalysisConfig{})
	env.addSession(t, "s1", constants.RequiredAngles, 0)
	env.addSession(t, "s2", constants.RequiredAngles, 100)
	env.addSession(t, "s3", constants.RequiredAngles, 0)
	ctx := context.Background()

	_, err := env.service.Similar(ctx, "s1", testUser, 5)
	assert.ErrorIs(t, err, ErrSessionNotAnalyzed)

	env.analyze(t, "s1")
	none, err := env.service.Similar(ctx, "s1", testUser, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	env.analyze(t, "s2")
	env.analyze(t, "s3")

	got, err := env.service.Similar(ctx, "s1", testUser, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].SessionID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, LevelStable, got[0].VariationLevel)
	assert.Equal(t, "s2", got[1].SessionID)

	top, err := env.service.Similar(ctx, "s1", testUser, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "s3", top[0].SessionID)
}
