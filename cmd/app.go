package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"screentest-backend/internal/config"
	"screentest-backend/internal/llm"
	"screentest-backend/internal/pipeline"
	"screentest-backend/internal/screenshots"
	"screentest-backend/internal/service"
	"screentest-backend/internal/storage"
	"screentest-backend/pkg/logger"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	client  *llm.Client
	store   storage.Storage
	svc     *service.GenerationService
	closers []io.Closer
}

// loadConfig reads the config file, falling back to defaults plus environment when the
// default path does not exist.
func loadConfig(cmdChanged bool) (*config.Config, error) {
	path := configPath
	if !cmdChanged {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

// initLogging sends logs to w (stderr for the stdio MCP server, which owns stdout).
func initLogging(cfg *config.Config, w io.Writer) error {
	if w != nil {
		return logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, w)
	}
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	client, err := llm.NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	a.client = client
	a.closers = append(a.closers, client)

	loader, err := a.newLoader(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	p := pipeline.New(client, loader, pipeline.NewResultCache(cfg.Cache.Capacity), pipeline.Options{
		Model:                 cfg.ModelName(),
		MinTestCases:          cfg.Generation.MinTestCases,
		MaxTokens:             cfg.Generation.MaxTokens,
		Temperature:           cfg.Generation.Temperature,
		RegenerateTemperature: cfg.Generation.RegenerateTemperature,
		MaxPages:              cfg.Upload.MaxPages,
		ImageConcurrency:      cfg.Generation.ImageConcurrency,
		JSONMode:              true,
	})
	a.svc = service.NewGenerationService(p, store)

	logger.WithFields(map[string]interface{}{
		"provider": client.ProviderName(),
		"model":    cfg.ModelName(),
		"storage":  cfg.Storage.Type,
	}).Info("generation pipeline ready")
	return a, nil
}

func (a *app) newLoader(ctx context.Context) (pipeline.ImageLoader, error) {
	multi := &screenshots.MultiLoader{
		Local: screenshots.NewFileLoader(a.cfg.Upload.LocalBaseDir, a.cfg.Upload.MaxImageBytes),
	}
	if a.cfg.GCS.Enabled {
		gcs, err := screenshots.NewGCSLoader(ctx, a.cfg.GCS.CredentialsFile, a.cfg.Upload.MaxImageBytes)
		if err != nil {
			return nil, fmt.Errorf("init GCS loader: %w", err)
		}
		multi.GCS = gcs
		a.closers = append(a.closers, gcs)
	}
	return multi, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}
