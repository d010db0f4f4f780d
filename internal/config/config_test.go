package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider.Name != "claude" {
		t.Errorf("provider: got %q, want %q", cfg.Provider.Name, "claude")
	}
	if cfg.Provider.Embedder != "ollama" {
		t.Errorf("embedder: got %q, want %q", cfg.Provider.Embedder, "ollama")
	}
	if cfg.Budget.TotalLimit != 4000 {
		t.Errorf("total limit: got %d, want 4000", cfg.Budget.TotalLimit)
	}
	if cfg.Window.EvictFraction != 0.4 {
		t.Errorf("evict fraction: got %f, want 0.4", cfg.Window.EvictFraction)
	}
	if got := cfg.Summary.Thresholds; len(got) != 3 || got[0] != 500 {
		t.Errorf("thresholds: got %v, want 3 levels starting at 500", got)
	}
	if cfg.Summary.MaxOutputTokens != 150 {
		t.Errorf("summary max tokens: got %d, want 150", cfg.Summary.MaxOutputTokens)
	}
	if cfg.Scorer.LongMessageWords != 30 {
		t.Errorf("long message words: got %d, want 30", cfg.Scorer.LongMessageWords)
	}
	if cfg.Profile.EveryTurns != 10 {
		t.Errorf("profile cadence: got %d, want 10", cfg.Profile.EveryTurns)
	}
	if cfg.Profile.DedupThreshold != 0.9 {
		t.Errorf("dedup threshold: got %f, want 0.9", cfg.Profile.DedupThreshold)
	}
	if cfg.LongTerm.SimilarityThreshold != 0.3 {
		t.Errorf("similarity threshold: got %f, want 0.3", cfg.LongTerm.SimilarityThreshold)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay.Duration != time.Second || cfg.Retry.Multiplier != 2 {
		t.Errorf("retry: got %+v", cfg.Retry)
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("ollama host: got %q", cfg.Ollama.Host)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Budget.TotalLimit != Default().Budget.TotalLimit {
		t.Errorf("expected defaults, got %+v", cfg.Budget)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[provider]
name = "openai"

[window]
token_budget = 500

[summary]
thresholds = [400, 300]

[retry]
base_delay = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("provider: got %q", cfg.Provider.Name)
	}
	if cfg.Window.TokenBudget != 500 {
		t.Errorf("window budget: got %d", cfg.Window.TokenBudget)
	}
	if len(cfg.Summary.Thresholds) != 2 {
		t.Errorf("thresholds: got %v", cfg.Summary.Thresholds)
	}
	if cfg.Retry.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("base delay: got %v", cfg.Retry.BaseDelay)
	}
	// Untouched sections keep their defaults.
	if cfg.Budget.TotalLimit != 4000 {
		t.Errorf("total limit: got %d", cfg.Budget.TotalLimit)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[retry]\nbase_delay = \"soon\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unparseable duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("RECALL_REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Keys.OpenAI != "sk-env" {
		t.Errorf("openai key: got %q", cfg.Keys.OpenAI)
	}
	if cfg.Storage.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("redis url: got %q", cfg.Storage.RedisURL)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Provider.Name = "gemini"
	cfg.Timeouts.Scoring = Duration{1500 * time.Millisecond}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider.Name != "gemini" {
		t.Errorf("provider: got %q", got.Provider.Name)
	}
	if got.Timeouts.Scoring.Duration != 1500*time.Millisecond {
		t.Errorf("scoring timeout: got %v", got.Timeouts.Scoring)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"allocations exceed total", func(c *Config) { c.Budget.Summary = 4000 }, "leave no room"},
		{"threshold below compressor output", func(c *Config) { c.Summary.Thresholds = []int{100} }, "thresholds[0]"},
		{"no levels", func(c *Config) { c.Summary.Thresholds = nil }, "at least one level"},
		{"bad fraction", func(c *Config) { c.Window.EvictFraction = 1.5 }, "evict_fraction"},
		{"unknown strategy", func(c *Config) { c.Scorer.Strategy = "vibes" }, "scorer.strategy"},
		{"zero cadence", func(c *Config) { c.Profile.EveryTurns = 0 }, "every_turns"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestChatModel(t *testing.T) {
	cfg := Default()
	if got := cfg.ChatModel(); got != "" {
		t.Errorf("claude default: got %q, want adapter default", got)
	}
	cfg.Provider.Name = "ollama"
	if got := cfg.ChatModel(); got != "llama3.2" {
		t.Errorf("ollama: got %q", got)
	}
	cfg.Provider.ChatModel = "custom"
	if got := cfg.ChatModel(); got != "custom" {
		t.Errorf("explicit: got %q", got)
	}
}
