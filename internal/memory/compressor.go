package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/tokenizer"
)

// StyleHint selects the compression prompt.
type StyleHint string

const (
	// StyleDigest summarizes a block of verbatim turns.
	StyleDigest StyleHint = "digest"
	// StyleCondense merges existing summaries into a shorter one.
	StyleCondense StyleHint = "condense"
)

// UnverifiedTag prefixes summaries produced without the model.
const UnverifiedTag = "(unverified compression)"

// Summary is the output of a compression. Verified is false for the
// deterministic fallback.
type Summary struct {
	Text     string
	Tokens   int
	Verified bool
}

// Compressor turns turns or text into a shorter summary. Output is always
// strictly shorter in tokens than the input.
type Compressor interface {
	Compress(ctx context.Context, turns []Turn, style StyleHint) Summary
	CompressText(ctx context.Context, text string, style StyleHint) Summary
}

// CompressorConfig configures an LLMCompressor.
type CompressorConfig struct {
	Model           string
	MaxOutputTokens int
	FallbackChars   int
	Timeout         time.Duration
}

// LLMCompressor summarizes with a model and falls back to a truncated
// excerpt when the model fails or does not compress.
type LLMCompressor struct {
	gen     adapter.Generator
	counter tokenizer.Counter
	cfg     CompressorConfig
	log     zerolog.Logger
}

// NewLLMCompressor returns a compressor. gen may be nil, in which case every
// compression takes the fallback path.
func NewLLMCompressor(gen adapter.Generator, counter tokenizer.Counter, cfg CompressorConfig, log zerolog.Logger) *LLMCompressor {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 150
	}
	if cfg.FallbackChars <= 0 {
		cfg.FallbackChars = 80
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &LLMCompressor{gen: gen, counter: counter, cfg: cfg, log: log}
}

const digestPrompt = `You compress chat transcripts for a long-running assistant's memory.
Summarize the transcript below in 2-4 sentences: the topics discussed, decisions made and open items.
Preserve names, identifiers, numbers and dates exactly. Write plain prose with no preamble.`

const condensePrompt = `You maintain the running summary of a long conversation.
Condense the summaries below into 2-4 sentences, keeping the topics, decisions and open items that still matter.
Preserve names, identifiers, numbers and dates exactly. Write plain prose with no preamble.`

// Compress implements Compressor.
func (c *LLMCompressor) Compress(ctx context.Context, turns []Turn, style StyleHint) Summary {
	input := formatTranscript(turns)
	return c.run(ctx, input, style, func() string { return c.excerptTurns(turns) })
}

// CompressText implements Compressor.
func (c *LLMCompressor) CompressText(ctx context.Context, text string, style StyleHint) Summary {
	return c.run(ctx, text, style, func() string {
		text := strings.TrimSpace(text)
		if strings.HasPrefix(text, UnverifiedTag) {
			return text
		}
		return UnverifiedTag + " " + text
	})
}

func (c *LLMCompressor) run(ctx context.Context, input string, style StyleHint, fallback func() string) Summary {
	inputTokens := c.counter.Count(input)
	limit := c.cfg.MaxOutputTokens
	if inputTokens-1 < limit {
		limit = inputTokens - 1
	}
	if limit <= 0 {
		return Summary{}
	}

	if c.gen != nil {
		text, err := c.generate(ctx, input, style)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("style", string(style)).Msg("compression failed, using excerpt")
		default:
			n := c.counter.Count(text)
			if text != "" && n <= limit {
				return Summary{Text: text, Tokens: n, Verified: true}
			}
			c.log.Warn().Int("input_tokens", inputTokens).Int("output_tokens", n).Int("limit", limit).
				Msg("compression did not shrink input, using excerpt")
		}
	}

	text := tokenizer.Fit(c.counter, fallback(), limit)
	return Summary{Text: text, Tokens: c.counter.Count(text)}
}

func (c *LLMCompressor) generate(ctx context.Context, input string, style StyleHint) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	system := digestPrompt
	if style == StyleCondense {
		system = condensePrompt
	}
	gen, err := c.gen.Generate(ctx, adapter.GenerateRequest{
		Messages: []adapter.Message{
			{Role: adapter.RoleSystem, Content: system},
			{Role: adapter.RoleUser, Content: input},
		},
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxOutputTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(gen.Content), nil
}

// excerptTurns keeps the first FallbackChars characters of each turn.
func (c *LLMCompressor) excerptTurns(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, fmt.Sprintf("%s: %s", t.Role, excerpt(t.Content, c.cfg.FallbackChars)))
	}
	return UnverifiedTag + " " + strings.Join(parts, " | ")
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// formatTranscript renders turns as "role: content" lines.
func formatTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
