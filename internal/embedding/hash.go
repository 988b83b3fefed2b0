package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"

	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

// HashExtractor derives a pseudo-random unit vector from a hash of the
// quantized pixels. Identical images map to identical vectors and distinct
// images to nearly orthogonal ones. It has no notion of visual similarity and
// exists for tests and dry runs.
type HashExtractor struct {
	dim int
}

// NewHashExtractor creates a hash-seeded extractor of the given dimension.
func NewHashExtractor(dim int) *HashExtractor {
	if dim <= 0 {
		dim = 1280
	}
	return &HashExtractor{dim: dim}
}

func (h *HashExtractor) Extract(ctx context.Context, img *preprocess.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(img.ToNRGBA().Pix)
	return SeededVector(sum[:], h.dim), nil
}

func (h *HashExtractor) Dim() int {
	return h.dim
}

func (h *HashExtractor) Name() string {
	return "hash"
}

// SeededVector returns a deterministic standard-normal vector seeded by the
// first 16 bytes of seed.
func SeededVector(seed []byte, dim int) []float32 {
	var s [16]byte
	copy(s[:], seed)
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(s[:8]), binary.LittleEndian.Uint64(s[8:])))

	out := make([]float32, dim)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	return out
}
