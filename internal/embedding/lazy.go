package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/variance-tracker/internal/logger"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

// Lazy defers construction of an extractor until its first use and shares
// the single instance afterwards. Initialization runs exactly once; a failed
// initialization is reported to every caller.
type Lazy struct {
	dim  int
	init func() (Extractor, error)

	once sync.Once
	ext  Extractor
	err  error
}

// NewLazy wraps an extractor constructor. dim is reported by Dim before the
// extractor exists.
func NewLazy(dim int, init func() (Extractor, error)) *Lazy {
	return &Lazy{dim: dim, init: init}
}

// Get returns the shared extractor, constructing it on first call.
func (l *Lazy) Get() (Extractor, error) {
	l.once.Do(func() {
		l.ext, l.err = l.init()
		if l.err != nil {
			l.err = fmt.Errorf("failed to initialize extractor: %w", l.err)
			return
		}
		logger.WithFields(logrus.Fields{
			"extractor": l.ext.Name(),
			"dim":       l.ext.Dim(),
		}).Info("embedding extractor initialized")
	})
	return l.ext, l.err
}

func (l *Lazy) Extract(ctx context.Context, img *preprocess.Image) ([]float32, error) {
	ext, err := l.Get()
	if err != nil {
		return nil, err
	}
	return ext.Extract(ctx, img)
}

func (l *Lazy) Dim() int {
	return l.dim
}

func (l *Lazy) Name() string {
	ext, err := l.Get()
	if err != nil {
		return "uninitialized"
	}
	return ext.Name()
}
