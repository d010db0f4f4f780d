package export

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/memvra/recall/internal/memory"
)

// JSONExporter renders ExportData as one structured JSON document.
type JSONExporter struct{}

type jsonOutput struct {
	UserID     string        `json:"user_id"`
	ExportedAt time.Time     `json:"exported_at"`
	Profile    []jsonFact    `json:"profile"`
	Sessions   []jsonSession `json:"sessions"`
}

type jsonFact struct {
	Attribute string    `json:"attribute,omitempty"`
	Fact      string    `json:"fact"`
	UpdatedAt time.Time `json:"updated_at"`
}

type jsonSession struct {
	SessionID string     `json:"session_id"`
	Turns     []jsonTurn `json:"turns"`
}

type jsonTurn struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *JSONExporter) Export(data ExportData) (string, error) {
	out := jsonOutput{
		UserID:     data.UserID,
		ExportedAt: data.ExportedAt,
		Profile:    []jsonFact{},
		Sessions:   []jsonSession{},
	}
	for _, f := range data.Profile.Facts {
		out.Profile = append(out.Profile, jsonFact{Attribute: f.Attribute, Fact: f.Text, UpdatedAt: f.UpdatedAt})
	}
	order, groups := groupBySession(data.Entries)
	for _, id := range order {
		s := jsonSession{SessionID: id}
		for _, e := range groups[id] {
			s.Turns = append(s.Turns, jsonTurn{Seq: e.Seq, Role: string(e.Role), Content: e.Content, CreatedAt: e.CreatedAt})
		}
		out.Sessions = append(out.Sessions, s)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// JSONLExporter writes one {"role", "content"} object per turn, the same
// shape `recall import` reads.
type JSONLExporter struct{}

// Line is one transcript line of the JSONL format.
type Line struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (e *JSONLExporter) Export(data ExportData) (string, error) {
	var b strings.Builder
	order, groups := groupBySession(data.Entries)
	for _, id := range order {
		for _, entry := range groups[id] {
			raw, err := json.Marshal(Line{
				Role:      string(entry.Role),
				Content:   entry.Content,
				SessionID: entry.SessionID,
				CreatedAt: entry.CreatedAt,
			})
			if err != nil {
				return "", err
			}
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// ParseLine decodes one JSONL transcript line.
func ParseLine(raw []byte) (Line, error) {
	var l Line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Line{}, err
	}
	l.Role = strings.ToLower(strings.TrimSpace(l.Role))
	if !memory.ValidRole(memory.Role(l.Role)) {
		return Line{}, &InvalidLineError{Reason: "unknown role " + l.Role}
	}
	if strings.TrimSpace(l.Content) == "" {
		return Line{}, &InvalidLineError{Reason: "empty content"}
	}
	return l, nil
}

// InvalidLineError reports a transcript line that decodes but cannot be
// imported.
type InvalidLineError struct {
	Reason string
}

func (e *InvalidLineError) Error() string { return "export: invalid line: " + e.Reason }
