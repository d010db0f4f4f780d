package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/adapter"
)

// Scorer assigns a salience score in [MinScore, MaxScore] to a turn. It
// never fails; scorers degrade to NeutralScore.
type Scorer interface {
	Score(ctx context.Context, t Turn) int
}

// DefaultHighPatterns match content worth keeping verbatim: identifiers and
// codes, deadlines, security terms and numbered steps.
func DefaultHighPatterns() []string {
	return []string{
		`\b[A-Z]{2,}[-_]?\d{2,}[A-Z0-9-]*\b`,
		`(?i)\b(?:account|order|ticket|invoice|reference|booking|customer|tracking)\s*(?:id|number|no\.?|#)`,
		`(?i)\b(?:deadline|due\s+(?:date|by|on)|by\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|eod)|\d{4}-\d{2}-\d{2})\b`,
		`(?i)\b(?:password|passcode|api[\s_-]?key|token|credentials?|secret|2fa|mfa|breach|vulnerabilit(?:y|ies))\b`,
		`(?im)^\s*(?:\d+[.)]|step\s+\d+:?)\s+\S`,
	}
}

// DefaultLowPatterns match greetings, acknowledgements and filler.
func DefaultLowPatterns() []string {
	return []string{
		`(?i)^\s*(?:hi|hello|hey|good\s+(?:morning|afternoon|evening)|greetings)\b`,
		`(?i)^\s*(?:thanks|thank\s+you|thx|ok(?:ay)?|got\s+it|sure|cool|great|sounds\s+good|noted)[\s.!]*$`,
		`(?i)\b(?:um+|uh+|hmm+|lol|haha)\b`,
	}
}

// HeuristicConfig configures a HeuristicScorer. Empty pattern lists use
// the defaults.
type HeuristicConfig struct {
	HighPatterns     []string
	LowPatterns      []string
	LongMessageWords int
}

// HeuristicScorer scores turns with regular expressions. It does no I/O.
type HeuristicScorer struct {
	high      []*regexp.Regexp
	low       []*regexp.Regexp
	longWords int
}

// NewHeuristicScorer compiles the configured patterns.
func NewHeuristicScorer(cfg HeuristicConfig) (*HeuristicScorer, error) {
	highSrc := cfg.HighPatterns
	if len(highSrc) == 0 {
		highSrc = DefaultHighPatterns()
	}
	lowSrc := cfg.LowPatterns
	if len(lowSrc) == 0 {
		lowSrc = DefaultLowPatterns()
	}
	high, err := compileAll(highSrc)
	if err != nil {
		return nil, fmt.Errorf("scorer: high patterns: %w", err)
	}
	low, err := compileAll(lowSrc)
	if err != nil {
		return nil, fmt.Errorf("scorer: low patterns: %w", err)
	}
	longWords := cfg.LongMessageWords
	if longWords <= 0 {
		longWords = 30
	}
	return &HeuristicScorer{high: high, low: low, longWords: longWords}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Score implements Scorer.
func (h *HeuristicScorer) Score(_ context.Context, t Turn) int {
	score := NeutralScore
	for _, re := range h.high {
		if re.MatchString(t.Content) {
			score += 2
		}
	}
	for _, re := range h.low {
		if re.MatchString(t.Content) {
			score -= 2
		}
	}
	if len(strings.Fields(t.Content)) > h.longWords {
		score++
	}
	return clampScore(score)
}

func clampScore(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// ScoreResult is a parsed model rating. Parsed is false when the output
// held no usable rating and Value carries the neutral fallback.
type ScoreResult struct {
	Value  int
	Parsed bool
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseScore reads the first integer of a model reply as a 1-10 rating.
func ParseScore(raw string) ScoreResult {
	m := firstInt.FindString(raw)
	if m == "" {
		return ScoreResult{Value: NeutralScore}
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < MinScore || n > MaxScore {
		return ScoreResult{Value: NeutralScore}
	}
	return ScoreResult{Value: n, Parsed: true}
}

// DelegatedScorer asks a model to rate each turn.
type DelegatedScorer struct {
	gen     adapter.Generator
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewDelegatedScorer returns a scorer that makes one model call per turn,
// bounded by timeout.
func NewDelegatedScorer(gen adapter.Generator, model string, timeout time.Duration, log zerolog.Logger) *DelegatedScorer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DelegatedScorer{gen: gen, model: model, timeout: timeout, log: log}
}

const scorePrompt = `Rate how important the following chat message is to remember for the rest of the conversation, on a scale from 1 (small talk) to 10 (critical facts such as identifiers, deadlines, credentials or instructions).
Reply with a single integer and nothing else.

Message (%s):
%s`

// Score implements Scorer.
func (d *DelegatedScorer) Score(ctx context.Context, t Turn) int {
	return d.Rate(ctx, t).Value
}

// Rate returns the tagged result of one rating call.
func (d *DelegatedScorer) Rate(ctx context.Context, t Turn) ScoreResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	gen, err := d.gen.Generate(ctx, adapter.GenerateRequest{
		Messages:    []adapter.Message{{Role: adapter.RoleUser, Content: fmt.Sprintf(scorePrompt, t.Role, trimResponse(t.Content, 2000))}},
		Model:       d.model,
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		d.log.Debug().Err(err).Int64("seq", t.Seq).Msg("importance rating failed, using neutral score")
		return ScoreResult{Value: NeutralScore}
	}
	res := ParseScore(gen.Content)
	if !res.Parsed {
		d.log.Debug().Str("reply", trimResponse(gen.Content, 80)).Int64("seq", t.Seq).Msg("unparseable importance rating")
	}
	return res
}
