package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memvra/recall/internal/adapter"
)

// FactCandidate is one fact proposed by extraction, before merging.
type FactCandidate struct {
	Attribute string `json:"attribute"`
	Fact      string `json:"fact"`
}

// ExtractFacts asks the model for durable facts about the user stated in
// turns. It returns at most maxFacts candidates. Malformed model output
// yields no candidates rather than an error.
func ExtractFacts(ctx context.Context, gen adapter.Generator, model string, turns []Turn, maxFacts int) ([]FactCandidate, error) {
	if maxFacts <= 0 {
		maxFacts = 5
	}
	if len(turns) == 0 {
		return nil, nil
	}

	transcript := trimResponse(formatTranscript(turns), 6000)

	prompt := fmt.Sprintf(`From the conversation below, extract durable facts about the USER: identity, preferences, goals, constraints, accounts and other details worth remembering in future conversations. Ignore facts about the assistant and one-off small talk.

Return ONLY a compact JSON array. Each element: {"attribute": "...", "fact": "..."}.
- attribute: a short lowercase key naming what the fact is about ("name", "city", "diet", "account_id")
- fact: one short third-person sentence ("The user lives in Berlin.")

If nothing qualifies, return []. No prose, no markdown, only the JSON array.
Maximum %d items.

--- CONVERSATION ---
%s
--- END ---`, maxFacts, transcript)

	resp, err := gen.Generate(ctx, adapter.GenerateRequest{
		Messages:    []adapter.Message{{Role: adapter.RoleUser, Content: prompt}},
		Model:       model,
		MaxTokens:   512,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	return parseFactsJSON(resp.Content, maxFacts), nil
}

// parseFactsJSON extracts candidates from the model's JSON output.
// Lenient: searches for the first '[' and last ']' to handle models that
// wrap the array in extra prose or markdown fences.
func parseFactsJSON(raw string, max int) []FactCandidate {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil // nothing extractable
	}

	slice := raw[start : end+1]

	// Some small models emit `["attribute": ...` (missing `{` on the first
	// element).
	if len(slice) > 1 && slice[1] == '"' {
		slice = "[{" + slice[1:]
	}

	var candidates []FactCandidate
	if err := json.Unmarshal([]byte(slice), &candidates); err != nil {
		return nil // still malformed
	}

	var out []FactCandidate
	for _, c := range candidates {
		if len(out) >= max {
			break
		}
		fact := strings.TrimSpace(c.Fact)
		if fact == "" {
			continue
		}
		out = append(out, FactCandidate{Attribute: normalizeAttribute(c.Attribute), Fact: fact})
	}
	return out
}

// normalizeAttribute lowercases an attribute key and joins its words with
// underscores.
func normalizeAttribute(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "_")
}

// trimResponse caps s at approximately maxChars characters, trimming at a
// sentence boundary if possible.
func trimResponse(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	trimmed := s[:maxChars]
	if idx := strings.LastIndexAny(trimmed, ".!?\n"); idx > maxChars/2 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + " [...]"
}
