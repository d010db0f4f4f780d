package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/config"
	"github.com/memvra/recall/internal/db"
	"github.com/memvra/recall/internal/logger"
	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/orchestrator"
	"github.com/memvra/recall/internal/storage"
	"github.com/memvra/recall/internal/tokenizer"
)

// app is the fully wired memory manager behind every command.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	db        *db.DB
	longTerm  *memory.LongTermIndex
	profiles  *memory.ProfileStore
	snapshots memory.SnapshotStore
	orch      *orchestrator.Orchestrator

	closers []io.Closer
}

// loadConfig reads the config named by --config and applies the global
// flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openApp loads the configuration and wires every component. The caller
// must Close the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, logCloser, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	path, err := cfg.DBPath()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db, err = db.Open(path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.db)
	if !a.db.VectorSupport() {
		log.Warn().Msg("sqlite-vec unavailable, similarity search falls back to a full scan")
	}

	gen, err := adapter.New(adapter.Options{
		Provider:   cfg.Provider.Name,
		APIKey:     apiKey(cfg, cfg.Provider.Name),
		BaseURL:    cfg.Provider.BaseURL,
		ChatModel:  cfg.ChatModel(),
		OllamaHost: cfg.Ollama.Host,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init LLM adapter: %w", err)
	}

	embedderName := cfg.Provider.Embedder
	if embedderName == "" {
		embedderName = cfg.Provider.Name
	}
	embedModel := cfg.Provider.EmbedModel
	if embedModel == "" && embedderName == adapter.ProviderOllama {
		embedModel = cfg.Ollama.EmbedModel
	}
	embedder, err := adapter.New(adapter.Options{
		Provider:   embedderName,
		APIKey:     apiKey(cfg, embedderName),
		EmbedModel: embedModel,
		OllamaHost: cfg.Ollama.Host,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	counter := tokenizer.NewTiktoken(logger.For("tokenizer")).ForModel(cfg.ChatModel())
	retry := orchestrator.RetryPolicy(cfg.Retry)

	a.longTerm = memory.NewLongTermIndex(a.db, embedder, memory.LongTermConfig{
		MinSimilarity: cfg.LongTerm.SimilarityThreshold,
		EmbedTimeout:  cfg.Timeouts.Embedding.Duration,
		Retry:         retry,
	}, logger.For("longterm"))

	a.profiles = memory.NewProfileStore(a.db, gen, embedder, memory.ProfileConfig{
		Model:            cfg.ChatModel(),
		DedupThreshold:   cfg.Profile.DedupThreshold,
		JaccardThreshold: cfg.Profile.JaccardThreshold,
		MaxFacts:         cfg.Profile.MaxFacts,
		MaxExtracts:      cfg.Profile.MaxExtracts,
		EmbedTimeout:     cfg.Timeouts.Embedding.Duration,
		Retry:            retry,
	}, logger.For("profile"))

	a.snapshots = memory.NewInMemorySnapshots()
	if cfg.Storage.RedisURL != "" {
		rs, err := storage.NewRedisSnapshots(ctx, cfg.Storage.RedisURL, cfg.Storage.SnapshotTTL.Duration)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, session snapshots kept in memory")
		} else {
			a.snapshots = rs
			a.closers = append(a.closers, rs)
		}
	}

	scorer, err := newScorer(cfg, gen)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch, err = orchestrator.New(cfg, orchestrator.Deps{
		Generator: gen,
		Counter:   counter,
		Scorer:    scorer,
		LongTerm:  a.longTerm,
		Profiles:  a.profiles,
		Registry:  orchestrator.NewRegistry(a.snapshots, logger.For("registry")),
		Logger:    logger.For("orchestrator"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newScorer picks the importance scorer named by scorer.strategy.
func newScorer(cfg config.Config, gen adapter.Generator) (memory.Scorer, error) {
	switch cfg.Scorer.Strategy {
	case "", "heuristic":
		return memory.NewHeuristicScorer(memory.HeuristicConfig{
			HighPatterns:     cfg.Scorer.HighPatterns,
			LowPatterns:      cfg.Scorer.LowPatterns,
			LongMessageWords: cfg.Scorer.LongMessageWords,
		})
	case "llm":
		return memory.NewDelegatedScorer(gen, cfg.ChatModel(), cfg.Timeouts.Scoring.Duration, logger.For("scorer")), nil
	default:
		return nil, fmt.Errorf("unknown scorer strategy %q; valid: heuristic, llm", cfg.Scorer.Strategy)
	}
}

// Close waits for background memory work and releases every resource.
func (a *app) Close() error {
	if a.orch != nil {
		a.orch.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if a.closers[i] == nil {
			continue
		}
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// apiKey returns the correct API key from the config for the given provider.
func apiKey(cfg config.Config, provider string) string {
	switch provider {
	case adapter.ProviderClaude:
		return cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		return cfg.Keys.OpenAI
	case adapter.ProviderGemini:
		return cfg.Keys.Gemini
	default:
		return ""
	}
}

func requireUser(userID string) error {
	if userID == "" {
		return errors.New("--user is required")
	}
	return nil
}

// stderrf prints a warning line for the user.
func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
