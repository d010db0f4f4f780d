package export

import (
	"fmt"
	"strings"
)

// MarkdownExporter renders a human-readable report.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(data ExportData) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Stored data for %s\n\n", data.UserID)
	if !data.ExportedAt.IsZero() {
		fmt.Fprintf(&b, "_Exported %s_\n\n", data.ExportedAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("## Profile\n\n")
	if len(data.Profile.Facts) == 0 {
		b.WriteString("No facts stored.\n\n")
	}
	for _, f := range data.Profile.Facts {
		if f.Attribute != "" {
			fmt.Fprintf(&b, "- **%s:** %s\n", f.Attribute, f.Text)
		} else {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
	}
	if len(data.Profile.Facts) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Conversation history (%d turns)\n\n", len(data.Entries))
	order, groups := groupBySession(data.Entries)
	for _, id := range order {
		fmt.Fprintf(&b, "### Session %s\n\n", id)
		for _, e := range groups[id] {
			content := strings.ReplaceAll(strings.TrimSpace(e.Content), "\n", "\n  ")
			fmt.Fprintf(&b, "- `%d` **%s** (%s): %s\n", e.Seq, e.Role, e.CreatedAt.UTC().Format("2006-01-02 15:04"), content)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
