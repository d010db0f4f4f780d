// Package config manages the global (~/.config/recall/config.toml) or
// explicitly named configuration file for recall.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of the memory manager.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Keys     KeysConfig     `toml:"keys"`
	Ollama   OllamaConfig   `toml:"ollama"`
	Window   WindowConfig   `toml:"window"`
	Summary  SummaryConfig  `toml:"summary"`
	Pruner   PrunerConfig   `toml:"pruner"`
	Scorer   ScorerConfig   `toml:"scorer"`
	LongTerm LongTermConfig `toml:"longterm"`
	Profile  ProfileConfig  `toml:"profile"`
	Budget   BudgetConfig   `toml:"budget"`
	Retry    RetryConfig    `toml:"retry"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
}

// ProviderConfig selects the generation and embedding backends.
type ProviderConfig struct {
	Name            string  `toml:"name"`
	Embedder        string  `toml:"embedder"`
	ChatModel       string  `toml:"chat_model"`
	EmbedModel      string  `toml:"embed_model"`
	BaseURL         string  `toml:"base_url"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	Temperature     float64 `toml:"temperature"`
	FallbackReply   string  `toml:"fallback_reply"`
	Instructions    string  `toml:"instructions"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
	Gemini    string `toml:"gemini"`
}

type OllamaConfig struct {
	Host            string `toml:"host"`
	EmbedModel      string `toml:"embed_model"`
	CompletionModel string `toml:"completion_model"`
}

// WindowConfig bounds the verbatim rolling window.
type WindowConfig struct {
	TokenBudget   int     `toml:"token_budget"`
	EvictFraction float64 `toml:"evict_fraction"`
}

// SummaryConfig controls the summary levels and the compressor.
type SummaryConfig struct {
	Thresholds      []int `toml:"thresholds"`
	MaxOutputTokens int   `toml:"max_output_tokens"`
	FallbackChars   int   `toml:"fallback_chars"`
}

type PrunerConfig struct {
	MessageOverhead int `toml:"message_overhead"`
}

// ScorerConfig selects between the heuristic and the delegated scorer.
type ScorerConfig struct {
	Strategy         string   `toml:"strategy"`
	HighPatterns     []string `toml:"high_patterns"`
	LowPatterns      []string `toml:"low_patterns"`
	LongMessageWords int      `toml:"long_message_words"`
}

type LongTermConfig struct {
	TopK                int     `toml:"top_k"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
}

type ProfileConfig struct {
	EveryTurns       int     `toml:"every_turns"`
	DedupThreshold   float64 `toml:"dedup_threshold"`
	JaccardThreshold float64 `toml:"jaccard_threshold"`
	MaxFacts         int     `toml:"max_facts"`
	MaxExtracts      int     `toml:"max_extracts"`
}

// BudgetConfig is the per-request context budget. The window receives
// whatever the other layers leave.
type BudgetConfig struct {
	TotalLimit int `toml:"total_limit"`
	Profile    int `toml:"profile"`
	Retrieved  int `toml:"retrieved"`
	Summary    int `toml:"summary"`
}

type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	Multiplier  float64  `toml:"multiplier"`
	MaxDelay    Duration `toml:"max_delay"`
}

// TimeoutsConfig bounds every external call.
type TimeoutsConfig struct {
	Generation  Duration `toml:"generation"`
	Embedding   Duration `toml:"embedding"`
	Scoring     Duration `toml:"scoring"`
	Compression Duration `toml:"compression"`
	Extraction  Duration `toml:"extraction"`
	Retrieval   Duration `toml:"retrieval"`
	Store       Duration `toml:"store"`
}

type StorageConfig struct {
	DBPath      string   `toml:"db_path"`
	RedisURL    string   `toml:"redis_url"`
	SnapshotTTL Duration `toml:"snapshot_ttl"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	FilePath   string `toml:"file_path"`
	TimeFormat string `toml:"time_format"`
}

// Duration is a time.Duration written as a string ("1s", "250ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Name:            "claude",
			Embedder:        "ollama",
			MaxOutputTokens: 512,
			Temperature:     0.7,
			FallbackReply:   "Sorry, I can't answer right now. Please try again in a moment.",
		},
		Ollama: OllamaConfig{
			Host:            "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			CompletionModel: "llama3.2",
		},
		Window: WindowConfig{
			TokenBudget:   1500,
			EvictFraction: 0.4,
		},
		Summary: SummaryConfig{
			Thresholds:      []int{500, 400, 300},
			MaxOutputTokens: 150,
			FallbackChars:   80,
		},
		Pruner: PrunerConfig{MessageOverhead: 4},
		Scorer: ScorerConfig{
			Strategy:         "heuristic",
			LongMessageWords: 30,
		},
		LongTerm: LongTermConfig{
			TopK:                5,
			SimilarityThreshold: 0.3,
		},
		Profile: ProfileConfig{
			EveryTurns:       10,
			DedupThreshold:   0.9,
			JaccardThreshold: 0.8,
			MaxFacts:         50,
			MaxExtracts:      5,
		},
		Budget: BudgetConfig{
			TotalLimit: 4000,
			Profile:    300,
			Retrieved:  600,
			Summary:    1300,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration{time.Second},
			Multiplier:  2,
			MaxDelay:    Duration{8 * time.Second},
		},
		Timeouts: TimeoutsConfig{
			Generation:  Duration{60 * time.Second},
			Embedding:   Duration{10 * time.Second},
			Scoring:     Duration{3 * time.Second},
			Compression: Duration{20 * time.Second},
			Extraction:  Duration{30 * time.Second},
			Retrieval:   Duration{5 * time.Second},
			Store:       Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			SnapshotTTL: Duration{24 * time.Hour},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
	}
}

// Dir returns the directory holding the global config and the default database.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "recall"), nil
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config at path (the global file when path is empty) over
// the defaults, then applies environment overrides. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := GlobalPath()
		if err != nil {
			applyEnv(&cfg)
			return cfg, nil // Defaults if home is unknown.
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: load %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Keys.Gemini = v
	}
	if v := os.Getenv("RECALL_REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("RECALL_DB"); v != "" {
		cfg.Storage.DBPath = v
	}
}

// Save writes cfg to path (the global file when path is empty).
func Save(path string, cfg Config) error {
	if path == "" {
		p, err := GlobalPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// DBPath returns the configured database path, defaulting to
// ~/.config/recall/recall.db.
func (c Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", fmt.Errorf("config: db path: %w", err)
	}
	return filepath.Join(dir, "recall.db"), nil
}

// ChatModel returns the configured chat model, or the provider's default
// when unset. The empty string means "let the adapter decide".
func (c Config) ChatModel() string {
	if c.Provider.ChatModel != "" {
		return c.Provider.ChatModel
	}
	if c.Provider.Name == "ollama" {
		return c.Ollama.CompletionModel
	}
	return ""
}

// Validate checks the invariants the memory layers rely on.
func (c Config) Validate() error {
	var errs []error

	b := c.Budget
	if b.TotalLimit <= 0 {
		errs = append(errs, errors.New("budget.total_limit must be positive"))
	}
	if b.Profile < 0 || b.Retrieved < 0 || b.Summary < 0 {
		errs = append(errs, errors.New("budget allocations must not be negative"))
	}
	if b.Profile+b.Retrieved+b.Summary >= b.TotalLimit {
		errs = append(errs, fmt.Errorf("budget allocations (%d) leave no room for the window inside total_limit %d",
			b.Profile+b.Retrieved+b.Summary, b.TotalLimit))
	}

	if c.Window.TokenBudget <= 0 {
		errs = append(errs, errors.New("window.token_budget must be positive"))
	}
	if c.Window.EvictFraction <= 0 || c.Window.EvictFraction > 1 {
		errs = append(errs, errors.New("window.evict_fraction must be in (0, 1]"))
	}

	if len(c.Summary.Thresholds) == 0 {
		errs = append(errs, errors.New("summary.thresholds needs at least one level"))
	}
	if c.Summary.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("summary.max_output_tokens must be positive"))
	}
	for i, th := range c.Summary.Thresholds {
		if th < c.Summary.MaxOutputTokens {
			errs = append(errs, fmt.Errorf("summary.thresholds[%d] (%d) must be at least max_output_tokens (%d)",
				i, th, c.Summary.MaxOutputTokens))
		}
	}

	switch c.Scorer.Strategy {
	case "heuristic", "llm":
	default:
		errs = append(errs, fmt.Errorf("scorer.strategy %q: want heuristic or llm", c.Scorer.Strategy))
	}

	if c.Profile.EveryTurns < 1 {
		errs = append(errs, errors.New("profile.every_turns must be at least 1"))
	}
	if c.Profile.DedupThreshold <= 0 || c.Profile.DedupThreshold > 1 {
		errs = append(errs, errors.New("profile.dedup_threshold must be in (0, 1]"))
	}
	if c.LongTerm.TopK < 0 {
		errs = append(errs, errors.New("longterm.top_k must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
