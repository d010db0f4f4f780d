package prompt

import (
	"strings"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/config"
	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/tokenizer"
)

// Budget is the per-request context budget. Profile, Retrieved and Summary
// cap their layers; the window is not capped here and gets whatever the
// other layers leave inside TotalLimit, which is never less than Window().
// The window's own size is bounded upstream by window.token_budget; when
// that exceeds Window() the builder prunes the window on busy turns.
type Budget struct {
	TotalLimit int
	Profile    int
	Retrieved  int
	Summary    int
}

// BudgetFrom builds a Budget from configuration.
func BudgetFrom(c config.BudgetConfig) Budget {
	return Budget{TotalLimit: c.TotalLimit, Profile: c.Profile, Retrieved: c.Retrieved, Summary: c.Summary}
}

// Window is the space guaranteed to verbatim turns, left when every other
// layer uses its full share.
func (b Budget) Window() int {
	w := b.TotalLimit - b.Profile - b.Retrieved - b.Summary
	if w < 0 {
		return 0
	}
	return w
}

// Layers are the inputs of one prompt, highest precedence first.
type Layers struct {
	Profile   string
	Retrieved []memory.Match
	Summary   string
	Window    []memory.Turn
}

// LayerTokens breaks down the tokens of an assembled prompt.
type LayerTokens struct {
	System    int
	Profile   int
	Retrieved int
	Summary   int
	Window    int
}

// Assembled is a prompt ready for the model.
type Assembled struct {
	Messages       []adapter.Message
	Tokens         int
	Layers         LayerTokens
	RetrievedUsed  int
	Pruned         []memory.Turn
	BudgetExceeded bool
}

// Builder assembles token-budget-aware prompts from the memory layers.
type Builder struct {
	counter   tokenizer.Counter
	formatter *Formatter
	pruner    *memory.Pruner
}

// NewBuilder creates a Builder. Turn token counts must come from the same
// counter.
func NewBuilder(counter tokenizer.Counter, formatter *Formatter, pruner *memory.Pruner) *Builder {
	return &Builder{counter: counter, formatter: formatter, pruner: pruner}
}

// Build lays out profile, retrieved turns, summary and window in that order.
// Each of the first three is cut to its allocation. When the whole prompt
// is still over TotalLimit the window is pruned; if even the protected
// exchange does not fit, BudgetExceeded is set.
func (b *Builder) Build(layers Layers, budget Budget) Assembled {
	var out Assembled

	profile := b.fit(b.formatter.FormatProfile(layers.Profile), budget.Profile)
	out.Layers.Profile = b.counter.Count(profile)

	var retrieved strings.Builder
	remaining := budget.Retrieved - b.counter.Count(RetrievedHeader)
	for _, m := range layers.Retrieved {
		block := b.formatter.FormatRetrieved(m)
		tokens := b.counter.Count(block)
		if tokens > remaining {
			continue
		}
		retrieved.WriteString(block)
		remaining -= tokens
		out.RetrievedUsed++
	}
	retrievedBlock := ""
	if out.RetrievedUsed > 0 {
		retrievedBlock = RetrievedHeader + retrieved.String()
		out.Layers.Retrieved = b.counter.Count(retrievedBlock)
	}

	summary := b.fit(b.formatter.FormatSummary(layers.Summary), budget.Summary)
	out.Layers.Summary = b.counter.Count(summary)

	system := b.formatter.FormatSystemPrompt(profile, retrievedBlock, summary)
	systemCost := b.counter.Count(system) + b.pruner.Overhead()
	out.Layers.System = systemCost

	window := layers.Window
	windowCost := 0
	for _, t := range window {
		windowCost += b.pruner.Cost(t)
	}
	if systemCost+windowCost > budget.TotalLimit {
		res := b.pruner.Prune(window, budget.TotalLimit-systemCost)
		window, windowCost = res.Kept, res.Tokens
		out.Pruned = res.Dropped
		out.BudgetExceeded = res.BudgetExceeded
	}
	out.Layers.Window = windowCost
	out.Tokens = systemCost + windowCost

	out.Messages = make([]adapter.Message, 0, len(window)+1)
	out.Messages = append(out.Messages, adapter.Message{Role: adapter.RoleSystem, Content: system})
	for _, t := range window {
		out.Messages = append(out.Messages, adapter.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// fit cuts a block to max tokens, dropping it when nothing fits.
func (b *Builder) fit(block string, max int) string {
	if block == "" || b.counter.Count(block) <= max {
		return block
	}
	return tokenizer.Fit(b.counter, block, max)
}
