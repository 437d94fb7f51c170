package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"bartender/internal/catalog"
	"bartender/internal/config"
	"bartender/internal/domain"
	"bartender/internal/embedding"
	embopenai "bartender/internal/embedding/openai"
	"bartender/internal/embedding/tfidf"
	genopenai "bartender/internal/generation/openai"
	"bartender/internal/logger"
	"bartender/internal/metrics"
	"bartender/internal/persistence"
	"bartender/internal/service"
)

// app bundles what every command needs.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	catalog *catalog.Catalog
	svc     *service.Service
}

func (a *app) Close() {
	_ = a.svc.Close()
	_ = a.logger.Sync()
}

// setup loads config, builds the logger and assembles the service. logFile, when
// non-empty, overrides logging.file.
func setup(c *cli.Context, logFile string) (*app, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if logFile != "" && cfg.Logging.File == "" {
		cfg.Logging.File = logFile
	}
	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	log, err := logger.NewLogger(cfg.Logging.Env, level, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Register()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	emb, err := buildEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	gen, err := buildGenerator(cfg, log)
	if err != nil {
		return nil, err
	}

	svc := service.New(service.Deps{
		Catalog:   cat,
		Embedder:  emb,
		Generator: gen,
		Store:     persistence.NewStore(cfg.Index.Dir),
		Logger:    log,
	},
		service.WithBatchSize(cfg.Embedder.BatchSize),
		service.WithWorkers(cfg.Embedder.Workers),
		service.WithDefaultTopK(cfg.Index.TopK),
	)
	log.Debug("Components assembled",
		zap.String("catalog", cfg.Catalog.Path),
		zap.Int("items", len(cat.Items())),
		zap.String("embedder", emb.Name()),
		zap.String("generator", cfg.Generator.Type),
		zap.String("index_dir", cfg.Index.Dir),
	)
	return &app{cfg: cfg, logger: log, catalog: cat, svc: svc}, nil
}

func loadConfig(path string) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func buildEmbedder(cfg *config.AppConfig, log *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:  cfg.Embedder.OpenAI.APIKeyEnv,
			Model:      cfg.Embedder.OpenAI.Model,
			Dimensions: cfg.Embedder.OpenAI.Dimensions,
			Timeout:    time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

// buildGenerator returns nil for type none; the service then degrades every reply.
func buildGenerator(cfg *config.AppConfig, log *zap.Logger) (domain.Generator, error) {
	switch cfg.Generator.Type {
	case "none", "":
		return nil, nil
	case "openai":
		if cfg.Generator.OpenAI == nil {
			return nil, fmt.Errorf("openai generator config missing")
		}
		gen, err := genopenai.NewGenerator(genopenai.Config{
			BaseURL:   cfg.Generator.OpenAI.BaseURL,
			APIKeyEnv: cfg.Generator.OpenAI.APIKeyEnv,
			Model:     cfg.Generator.OpenAI.Model,
			Timeout:   time.Duration(cfg.Generator.OpenAI.TimeoutSecs) * time.Second,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("generator init failed: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
	}
}

func catalogSummary(cat *catalog.Catalog) string {
	names := cat.SectionNames()
	if len(names) == 0 {
		return fmt.Sprintf("%d items", len(cat.Items()))
	}
	return fmt.Sprintf("%d items: %s", len(cat.Items()), strings.Join(names, ", "))
}
