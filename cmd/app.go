package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/database"
	_ "github.com/kozaktomas/variance-tracker/internal/database/postgres" // register backend
	_ "github.com/kozaktomas/variance-tracker/internal/database/sqlite"   // register backend
	"github.com/kozaktomas/variance-tracker/internal/embedding"
	"github.com/kozaktomas/variance-tracker/internal/storage"
)

// app holds the services shared by the commands.
type app struct {
	cfg      *config.Config
	store    database.Store
	images   storage.ObjectStore
	analysis *analysis.Service
}

// openApp opens the table store, the object store and the feature extractor
// selected by the environment.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	images, err := storage.New(cfg.Storage)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	extractor, err := embedding.New(cfg.Embedding)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to configure feature extractor: %w", err)
	}

	return &app{
		cfg:      cfg,
		store:    store,
		images:   images,
		analysis: analysis.NewService(store, images, extractor, cfg.Analysis),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}
