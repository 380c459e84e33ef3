package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/config"
	"github.com/soypete/alttext/pkg/database"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/logging"
	"github.com/soypete/alttext/pkg/prompts"
	"github.com/soypete/alttext/pkg/storage"
	"github.com/soypete/alttext/pkg/vision"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      *database.DB
	assets  *storage.AssetStore
	queue   jobs.Manager
	service *alttext.Service
}

// needs lists what a command requires beyond config and logging.
type needs struct {
	vision bool // the command calls the vision API
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNoConfigFile) {
		return config.Default(), nil
	}
	return cfg, err
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.Log.Format, Out: os.Stderr})
}

// newApp loads configuration and wires the database, queue and service.
func newApp(ctx context.Context, n needs) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	if n.vision {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
	}

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	volume, err := storage.NewVolume(&cfg.Storage)
	if err != nil {
		db.Close()
		return nil, err
	}
	assetStore := storage.NewAssetStore(db.DB, volume)

	var queue jobs.Manager
	switch cfg.Queue.Backend {
	case config.QueueBackendFile:
		queue, err = jobs.NewFileManager(cfg.Queue.StateDir)
		if err != nil {
			db.Close()
			return nil, err
		}
	default:
		queue = jobs.NewDBManager(storage.NewJobStore(db.DB), logger)
	}

	detail, err := vision.ParseDetail(cfg.OpenAI.ImageDetail)
	if err != nil {
		db.Close()
		return nil, err
	}
	generator, err := newGenerator(cfg, detail, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	describer := alttext.NewDescriber(alttext.Dependencies{
		Store:       assetStore,
		Generator:   generator,
		Prober:      vision.NewProber(cfg.Images.ProbeTimeout, cfg.Images.ProbeCacheTTL, logger),
		Transformer: vision.NewImageProcessor(&cfg.Images.ImageProcessorConfig),
		Prompts:     prompts.NewManagerWithDir(cfg.Prompts.Templates(), cfg.Prompts.Dir),
		Logger:      logger,
	}, alttext.DescriberConfig{Model: cfg.OpenAI.Model, Detail: detail})

	service := alttext.NewService(assetStore, queue, describer, alttext.NewPlanner(logger), cfg.Generation, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		assets:  assetStore,
		queue:   queue,
		service: service,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
}

// newGenerator builds the vision client. Without an API key every
// generation fails with a transport error.
func newGenerator(cfg *config.Config, detail vision.Detail, logger zerolog.Logger) (alttext.Generator, error) {
	if cfg.OpenAI.APIKey == "" {
		return missingKey{}, nil
	}
	client, err := vision.NewClient(vision.Options{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Detail:  detail,
		Timeout: cfg.OpenAI.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

type missingKey struct{}

func (missingKey) Generate(ctx context.Context, req vision.Request) vision.Result {
	return vision.Failure(vision.ErrorTransport, "openai api key is not configured")
}

// primarySite returns siteID when it exists, or the primary site's id when
// siteID is 0.
func (a *app) primarySite(ctx context.Context, siteID int64) (int64, error) {
	sites, err := a.assets.Sites(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sites: %w", err)
	}
	if len(sites) == 0 {
		return 0, errors.New("no sites configured; run alttext migrate")
	}
	return alttext.ResolveSite(sites, siteID)
}
