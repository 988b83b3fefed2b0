// Package storage downloads captured session images from the object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kozaktomas/variance-tracker/internal/config"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// MaxObjectSize caps the size of a single downloaded image.
const MaxObjectSize = 32 << 20

// Backend names accepted by New.
const (
	BackendAzure = "azure"
	BackendHTTP  = "http"
	BackendFS    = "fs"
)

// ObjectStore reads objects by their storage path.
type ObjectStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Name() string
}

// New creates the object store selected by cfg.Backend.
func New(cfg config.StorageConfig) (ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendAzure:
		return NewAzureStore(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.Container)
	case BackendHTTP:
		if cfg.HTTPBaseURL == "" {
			return nil, errors.New("STORAGE_HTTP_URL is required for the http storage backend")
		}
		return NewHTTPStore(cfg.HTTPBaseURL, cfg.Container, cfg.HTTPToken), nil
	case "", BackendFS:
		return NewFSStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// readAll reads r up to MaxObjectSize.
func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("object exceeds %d bytes", MaxObjectSize)
	}
	return data, nil
}
