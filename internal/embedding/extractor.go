// Package embedding maps preprocessed images to fixed-length vectors and
// provides the vector arithmetic the analysis builds on: mean aggregation and
// cosine distance.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

// Backend names accepted by New.
const (
	BackendHTTP       = "http"
	BackendPerceptual = "perceptual"
	BackendHash       = "hash"
)

// Extractor computes an embedding for a preprocessed image. Implementations
// must be safe for concurrent use; one instance is shared by all analyses.
type Extractor interface {
	Extract(ctx context.Context, img *preprocess.Image) ([]float32, error)
	Dim() int
	Name() string
}

// New builds the extractor selected by cfg.Backend. The extractor is wrapped
// in a Lazy so that the first analysis pays the initialization cost.
func New(cfg config.EmbeddingConfig) (*Lazy, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendHTTP:
		return NewLazy(cfg.Dim, func() (Extractor, error) {
			return NewHTTPExtractor(cfg.URL, cfg.Model, cfg.Dim), nil
		}), nil
	case BackendPerceptual:
		return NewLazy(PerceptualDim, func() (Extractor, error) {
			return NewPerceptualExtractor(), nil
		}), nil
	case BackendHash:
		return NewLazy(cfg.Dim, func() (Extractor, error) {
			return NewHashExtractor(cfg.Dim), nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", cfg.Backend)
	}
}
