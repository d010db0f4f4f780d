// Package export renders everything stored about one user into portable
// formats, the companion of erasure for data-portability requests.
package export

import (
	"sort"
	"time"

	"github.com/memvra/recall/internal/memory"
)

// ExportData is passed to every Exporter.
type ExportData struct {
	UserID     string
	Profile    memory.UserProfile
	Entries    []memory.MemoryEntry
	ExportedAt time.Time
}

// Exporter renders ExportData to a string in a specific format.
type Exporter interface {
	Export(data ExportData) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
	"jsonl":    &JSONLExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported export format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// groupBySession splits entries by session, keeping the first-seen order
// of sessions and the sequence order inside each.
func groupBySession(entries []memory.MemoryEntry) ([]string, map[string][]memory.MemoryEntry) {
	var order []string
	groups := make(map[string][]memory.MemoryEntry)
	for _, e := range entries {
		if _, ok := groups[e.SessionID]; !ok {
			order = append(order, e.SessionID)
		}
		groups[e.SessionID] = append(groups[e.SessionID], e)
	}
	for _, id := range order {
		g := groups[id]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Seq < g[j].Seq })
	}
	return order, groups
}
