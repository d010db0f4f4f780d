// Package prompt assembles the bounded prompt sent to the model on every
// turn from the memory layers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/memvra/recall/internal/memory"
)

// DefaultInstructions opens the system message when none are configured.
const DefaultInstructions = `You are a helpful assistant with memory of earlier conversations with this user.
Use the context below when it is relevant. If it conflicts with the live conversation, trust the conversation.`

// maxRetrievedChars caps one retrieved turn inside the prompt.
const maxRetrievedChars = 600

// Formatter renders memory layers into prompt-ready sections.
type Formatter struct {
	instructions string
}

// NewFormatter creates a Formatter. Empty instructions use
// DefaultInstructions.
func NewFormatter(instructions string) *Formatter {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &Formatter{instructions: strings.TrimSpace(instructions)}
}

// FormatProfile renders the user profile block.
func (f *Formatter) FormatProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return ""
	}
	return "## What you know about the user\n\n" + profile + "\n"
}

// RetrievedHeader opens the block of recalled turns.
const RetrievedHeader = "## Relevant earlier conversation\n\n"

// FormatRetrieved renders one recalled turn as a list item.
func (f *Formatter) FormatRetrieved(m memory.Match) string {
	date := "unknown date"
	if !m.CreatedAt.IsZero() {
		date = m.CreatedAt.Format("2006-01-02")
	}
	content := strings.Join(strings.Fields(m.Content), " ")
	return fmt.Sprintf("- [%s] %s: %s\n", date, m.Role, truncateStr(content, maxRetrievedChars))
}

// FormatSummary renders the rendered summary levels.
func (f *Formatter) FormatSummary(summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	return "## Conversation so far\n\n" + summary + "\n"
}

// FormatSystemPrompt joins the instructions and the non-empty sections in
// precedence order.
func (f *Formatter) FormatSystemPrompt(sections ...string) string {
	var b strings.Builder
	b.WriteString(f.instructions)
	b.WriteString("\n")
	for _, s := range sections {
		if s == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}

// truncateStr cuts s to max runes.
func truncateStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
