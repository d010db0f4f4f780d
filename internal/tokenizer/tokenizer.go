// Package tokenizer counts tokens for prompt budgeting.
package tokenizer

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// Counter counts and truncates text for one model.
type Counter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// UnsupportedModelError is returned when no encoding is known for a model.
type UnsupportedModelError struct {
	Model string
	Err   error
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("tokenizer: unsupported model %q", e.Model)
}

func (e *UnsupportedModelError) Unwrap() error { return e.Err }

// Estimate approximates the token count of text as ceil(chars/4).
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Estimator is a Counter that uses Estimate. It never fails and needs no
// encoding files.
type Estimator struct{}

func (Estimator) Count(text string) int { return Estimate(text) }

func (Estimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * 4
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

// maxCacheEntries bounds the count cache; it is reset when full.
const maxCacheEntries = 8192

type cacheKey struct {
	model string
	sum   uint64
	size  int
}

// Tiktoken counts tokens with the BPE encoding registered for each model.
// Encodings are loaded lazily and counts are cached per process.
type Tiktoken struct {
	log zerolog.Logger

	mu     sync.Mutex
	encs   map[string]*tiktoken.Tiktoken
	failed map[string]error
	cache  map[cacheKey]int
	warned map[string]bool
}

// NewTiktoken returns a Tiktoken counter.
func NewTiktoken(log zerolog.Logger) *Tiktoken {
	return &Tiktoken{
		log:    log,
		encs:   make(map[string]*tiktoken.Tiktoken),
		failed: make(map[string]error),
		cache:  make(map[cacheKey]int),
		warned: make(map[string]bool),
	}
}

func (t *Tiktoken) encoding(model string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encs[model]; ok {
		return enc, nil
	}
	if err, ok := t.failed[model]; ok {
		return nil, err
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if strings.Contains(err.Error(), "no encoding for model") {
			err = &UnsupportedModelError{Model: model, Err: err}
		} else {
			err = fmt.Errorf("tokenizer: load encoding for %s: %w", model, err)
		}
		t.failed[model] = err
		return nil, err
	}
	t.encs[model] = enc
	return enc, nil
}

// CountModel returns the exact token count of text under model's encoding.
func (t *Tiktoken) CountModel(text, model string) (int, error) {
	if text == "" {
		return 0, nil
	}
	key := cacheKey{model: model, sum: hashText(text), size: len(text)}
	t.mu.Lock()
	if n, ok := t.cache[key]; ok {
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	enc, err := t.encoding(model)
	if err != nil {
		return 0, err
	}
	n := len(enc.Encode(text, nil, nil))

	t.mu.Lock()
	if len(t.cache) >= maxCacheEntries {
		t.cache = make(map[cacheKey]int)
	}
	t.cache[key] = n
	t.mu.Unlock()
	return n, nil
}

// Count returns the token count of text for model, falling back to the
// character estimate when the model's encoding is unavailable.
func (t *Tiktoken) Count(text, model string) int {
	n, err := t.CountModel(text, model)
	if err != nil {
		t.warnOnce(model, err)
		return Estimate(text)
	}
	return n
}

// Truncate cuts text to at most maxTokens tokens of model's encoding.
func (t *Tiktoken) Truncate(text, model string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc, err := t.encoding(model)
	if err != nil {
		t.warnOnce(model, err)
		return Estimator{}.Truncate(text, maxTokens)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}

// ForModel binds the counter to one model.
func (t *Tiktoken) ForModel(model string) Counter {
	return &modelCounter{t: t, model: model}
}

func (t *Tiktoken) warnOnce(model string, err error) {
	t.mu.Lock()
	seen := t.warned[model]
	t.warned[model] = true
	t.mu.Unlock()
	if seen {
		return
	}
	var unsupported *UnsupportedModelError
	if errors.As(err, &unsupported) {
		t.log.Info().Str("model", model).Msg("no tokenizer for model, using character estimate")
		return
	}
	t.log.Warn().Err(err).Str("model", model).Msg("tokenizer unavailable, using character estimate")
}

type modelCounter struct {
	t     *Tiktoken
	model string
}

func (c *modelCounter) Count(text string) int { return c.t.Count(text, c.model) }

func (c *modelCounter) Truncate(text string, maxTokens int) string {
	return c.t.Truncate(text, c.model, maxTokens)
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Fit truncates text until counter reports at most maxTokens. Decoding a
// truncated token slice can re-encode slightly longer, so it retries.
func Fit(c Counter, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens
	for i := 0; i < 4 && c.Count(text) > maxTokens; i++ {
		text = c.Truncate(text, limit)
		limit--
		if limit <= 0 {
			return ""
		}
	}
	if c.Count(text) > maxTokens {
		return ""
	}
	return text
}
