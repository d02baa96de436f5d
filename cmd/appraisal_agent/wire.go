package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/fetch"
	"github.com/jonathan/appraisal-agent/internal/lens"
	"github.com/jonathan/appraisal-agent/internal/llm"
	"github.com/jonathan/appraisal-agent/internal/logging"
	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/pricing"
	"github.com/jonathan/appraisal-agent/internal/research"
	"github.com/jonathan/appraisal-agent/internal/search"
	"github.com/jonathan/appraisal-agent/internal/storage"
	"github.com/jonathan/appraisal-agent/internal/vision"
)

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// priceCache is a price cache that /health can check.
type priceCache interface {
	pricing.Cache
	Ping(ctx context.Context) error
}

// appraiser is the wired pipeline and the clients it holds open.
type appraiser struct {
	orchestrator *pipeline.Orchestrator
	images       storage.ImageStore
	priceCache   priceCache
	closers      []func()
}

// Close releases clients in reverse order of creation.
func (a *appraiser) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildAppraiser connects the external services and assembles the
// vision, search and price stages.
func buildAppraiser(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *appraiser, err error) {
	a := &appraiser{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	client, err := llm.NewClient(ctx, llm.ConfigFor(cfg.LLM.Provider), cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	lensCfg := lens.DefaultConfig(cfg.Lens.APIKey)
	lensCfg.Timeout = cfg.Lens.Timeout
	lensCfg.Logger = logger
	lensClient, err := lens.NewClient(lensCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lens client: %w", err)
	}

	var searcher research.Searcher
	if cfg.CustomSearch.Enabled() {
		rc, err := research.NewClient(ctx, cfg.CustomSearch.APIKey, cfg.CustomSearch.CX)
		if err != nil {
			return nil, err
		}
		searcher = rc
	} else {
		logger.Warn("custom search is not configured; search and price stages use the model alone")
	}

	a.images, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	a.priceCache, err = newPriceCache(ctx, cfg.Cache, a)
	if err != nil {
		return nil, err
	}

	reader := fetch.NewReader(fetch.ReaderConfig{
		Browser:        cfg.Fetch.Browser,
		BrowserTimeout: cfg.Fetch.Timeout,
		CacheTTL:       cfg.Fetch.PageCacheTTL,
		Logger:         logger,
	})
	a.closers = append(a.closers, reader.Close)

	var guardrail vision.Guardrail
	if cfg.LLM.GuardrailEnabled {
		guardrail = vision.NewLLMGuardrail(client)
	}
	analyzer, err := vision.NewAnalyzer(vision.Config{
		Guardrail:  guardrail,
		Searcher:   lensClient,
		Identifier: vision.NewLLMIdentifier(client),
		Store:      a.images,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	lookup, err := pricing.NewLookup(pricing.Config{
		Client:   client,
		Searcher: searcher,
		Pages:    reader,
		Cache:    a.priceCache,
		MaxPages: cfg.Fetch.MaxPages,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.New([]pipeline.Stage{
		vision.NewStage(analyzer, logger),
		search.NewStage(search.NewClassifier(client, searcher, logger), logger),
		pricing.NewStage(lookup, logger),
	}, pipeline.Config{
		Timeout: cfg.Pipeline.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newPriceCache prefers Valkey and falls back to an in-process cache when
// no address is configured.
func newPriceCache(ctx context.Context, cfg config.CacheConfig, a *appraiser) (priceCache, error) {
	if cfg.ValkeyAddr == "" {
		return pricing.NewMemoryCache(cfg.PriceTTL), nil
	}
	client, err := pricing.NewValkeyClient(ctx, cfg.ValkeyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return pricing.NewValkeyCache(client, cfg.PriceTTL), nil
}
