package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

func gradientImage(size int, flip bool) *preprocess.Image {
	img := preprocess.NewImage(size, size)
	for y := range size {
		for x := range size {
			v := float32(x) / float32(size-1)
			if flip {
				v = 1 - v
			}
			img.SetRGB(x, y, v, float32(y)/float32(size-1), 0.5)
		}
	}
	return img
}

func flatImage(size int, v float32) *preprocess.Image {
	img := preprocess.NewImage(size, size)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestHashExtractor(t *testing.T) {
	ctx := context.Background()
	ext := NewHashExtractor(128)
	assert.Equal(t, 128, ext.Dim())

	a1, err := ext.Extract(ctx, gradientImage(32, false))
	require.NoError(t, err)
	a2, err := ext.Extract(ctx, gradientImage(32, false))
	require.NoError(t, err)
	b, err := ext.Extract(ctx, gradientImage(32, true))
	require.NoError(t, err)

	assert.Len(t, a1, 128)
	assert.Equal(t, a1, a2, "identical images must map to identical vectors")
	assert.Greater(t, CosineDistance(a1, b), 0.5)
}

func TestHashExtractor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashExtractor(8).Extract(ctx, flatImage(4, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPerceptualExtractor(t *testing.T) {
	ctx := context.Background()
	ext := NewPerceptualExtractor()

	a, err := ext.Extract(ctx, gradientImage(64, false))
	require.NoError(t, err)
	require.Len(t, a, PerceptualDim)

	again, err := ext.Extract(ctx, gradientImage(64, false))
	require.NoError(t, err)
	assert.Equal(t, a, again)

	flipped, err := ext.Extract(ctx, gradientImage(64, true))
	require.NoError(t, err)
	assert.Greater(t, CosineDistance(a, flipped), 0.05)

	// Flat images share no structure, only nearby histograms.
	dark, err := ext.Extract(ctx, flatImage(64, 0.30))
	require.NoError(t, err)
	darker, err := ext.Extract(ctx, flatImage(64, 0.31))
	require.NoError(t, err)
	assert.InDelta(t, 0, CosineDistance(dark, darker), 1e-6)
}

func TestLazy_InitializesOnce(t *testing.T) {
	var calls atomic.Int32
	lazy := NewLazy(16, func() (Extractor, error) {
		calls.Add(1)
		return NewHashExtractor(16), nil
	})
	assert.Equal(t, int32(0), calls.Load(), "construction must be deferred")
	assert.Equal(t, 16, lazy.Dim())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lazy.Extract(context.Background(), flatImage(4, 0.5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "hash", lazy.Name())
}

func TestLazy_InitError(t *testing.T) {
	boom := errors.New("weights missing")
	lazy := NewLazy(16, func() (Extractor, error) {
		return nil, boom
	})

	_, err := lazy.Extract(context.Background(), flatImage(4, 0.5))
	assert.ErrorIs(t, err, boom)
	_, err = lazy.Get()
	assert.ErrorIs(t, err, boom)
}

func TestHTTPExtractor(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/image" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Header.Get("Content-Type") != "image/png" {
			http.Error(w, "wrong content type", http.StatusBadRequest)
			return
		}
		img, err := png.Decode(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embeddingResponse{
			Dim:       3,
			Embedding: []float32{float32(img.Bounds().Dx()), 1, 2},
			Model:     gotModel,
		})
	}))
	defer server.Close()

	ext := NewHTTPExtractor(server.URL+"/", "test-model", 3)
	got, err := ext.Extract(context.Background(), flatImage(8, 0.5))
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 1, 2}, got)
	assert.Equal(t, "test-model", gotModel)
	assert.Equal(t, "http:test-model", ext.Name())

	mismatch := NewHTTPExtractor(server.URL, "test-model", 1280)
	_, err = mismatch.Extract(context.Background(), flatImage(8, 0.5))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHTTPExtractor_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPExtractor(server.URL, "", 0).Extract(context.Background(), flatImage(4, 0.5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		wantDim int
		wantErr bool
	}{
		{"", 1280, false},
		{"http", 1280, false},
		{"hash", 1280, false},
		{"perceptual", PerceptualDim, false},
		{"onnx", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			ext, err := New(config.EmbeddingConfig{Backend: tc.backend, Dim: 1280})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantDim, ext.Dim())
		})
	}
}
