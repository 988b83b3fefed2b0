package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/variance-tracker/internal/config"
)

func TestFSStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "u1", "s1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1", "s1", "front.jpg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "outside.txt"), []byte("x"), 0o644))

	s, err := NewFSStore(dir)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	data, err := s.Download(ctx, "u1/s1/front.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	data, err = s.Download(ctx, "/u1/s1/front.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = s.Download(ctx, "u1/s1/left.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Download(ctx, "../outside.txt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestNew(t *testing.T) {
	s, err := New(config.StorageConfig{Backend: "fs", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, BackendFS, s.Name())

	s, err = New(config.StorageConfig{Backend: "http", HTTPBaseURL: "http://localhost:9000"})
	require.NoError(t, err)
	assert.Equal(t, BackendHTTP, s.Name())

	_, err = New(config.StorageConfig{Backend: "http"})
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Backend: "azure"})
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Backend: "s3"})
	assert.ErrorContains(t, err, "unknown storage backend")
}
