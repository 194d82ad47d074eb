// Package app wires the long-lived components shared by the server and the
// operator CLI. The process entry point owns the returned App and closes it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sahaib/ftex/internal/ai"
	"github.com/sahaib/ftex/internal/analysis"
	"github.com/sahaib/ftex/internal/cache"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/db"
	"github.com/sahaib/ftex/internal/extract"
	"github.com/sahaib/ftex/internal/ingest"
	"github.com/sahaib/ftex/internal/metrics"
	"github.com/sahaib/ftex/internal/observability"
	"github.com/sahaib/ftex/internal/persist"
	"github.com/sahaib/ftex/internal/service"
)

type App struct {
	Config    config.Config
	Settings  *config.Provider
	Cache     *cache.Cache
	Metrics   *metrics.Store
	Analyzer  *analysis.Analyzer
	Processor *service.ProcessingService
	Source    ingest.Source
	Observer  *observability.Metrics
	Logger    zerolog.Logger

	// Store is nil when DATABASE_URL is empty.
	Store *db.Store

	EntityField string
}

// New builds every component from cfg. reg receives the prometheus
// collectors; pass a fresh registry in tests.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*App, error) {
	settings, err := config.NewProvider(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	comp, err := persist.ParseCompression(cfg.CacheCompress)
	if err != nil {
		return nil, err
	}
	obs := observability.NewMetrics(reg)

	a := &App{
		Config:      cfg,
		Settings:    settings,
		Observer:    obs,
		Logger:      logger,
		EntityField: settings.String("loader.entity_field", ingest.DefaultEntityField),
	}

	a.Cache = cache.Open(cfg.CacheDir,
		cache.WithLogger(logger.With().Str("component", "cache").Logger()),
		cache.WithCompression(comp),
		cache.WithMetrics(obs),
	)
	a.Metrics = metrics.NewStore(cfg.CacheDir,
		metrics.WithLogger(logger.With().Str("component", "metrics").Logger()),
		metrics.WithCompression(comp),
		metrics.WithMetrics(obs),
	)
	a.Analyzer = analysis.New(extract.New(
		extract.WithProvider(settings),
		extract.WithLogger(logger.With().Str("component", "extract").Logger()),
	))

	if cfg.DatabaseURL != "" {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.Store = store
	}

	switch {
	case cfg.TicketsFile != "":
		a.Source = ingest.NewFileSource(cfg.TicketsFile, a.EntityField, logger.With().Str("component", "ingest").Logger())
		logger.Info().Str("path", cfg.TicketsFile).Msg("using ticket export file")
	case a.Store != nil:
		a.Source = a.Store
		logger.Info().Msg("using database ticket source")
	default:
		a.Source = ingest.None{}
		logger.Warn().Msg("no ticket source configured")
	}

	a.Processor = &service.ProcessingService{
		Cache:    a.Cache,
		Metrics:  a.Metrics,
		Analyzer: a.Analyzer,
		Settings: settings,
		Observer: obs,
		Logger:   logger.With().Str("component", "pipeline").Logger(),
	}
	if a.Store != nil {
		a.Processor.Runs = a.Store
	}

	if cfg.AIURL == "" {
		a.Processor.Enricher = ai.MockEnricher{ModelVersion: "mock-v1"}
		a.Processor.EnricherName = "mock"
		logger.Info().Msg("using mock enricher")
	} else {
		a.Processor.Enricher = ai.HTTPEnricher{BaseURL: cfg.AIURL, Client: &http.Client{Timeout: 30 * time.Second}}
		a.Processor.EnricherName = "http"
	}

	if cfg.AssistantURL != "" && cfg.AssistantModel != "" {
		names := make([]string, 0)
		for _, c := range settings.Categories() {
			names = append(names, c.Name)
		}
		a.Processor.Categorizer = ai.AssistantCategorizer{
			Assistant: ai.OpenAICompatAssistant{
				BaseURL: cfg.AssistantURL,
				Model:   cfg.AssistantModel,
				APIKey:  cfg.AssistantAPIKey,
			},
			Categories: names,
		}
		logger.Info().Str("model", cfg.AssistantModel).Msg("batch categorizer enabled")
	}
	return a, nil
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}
