// Package memory implements the conversational memory layers: the rolling
// window of verbatim turns, hierarchical summaries, importance scoring and
// pruning, the long-term semantic index and per-user profiles.
package memory

import (
	"errors"
	"fmt"
	"time"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole returns true if r is a recognised role.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Importance bounds. Unscored turns count as NeutralScore.
const (
	MinScore     = 1
	MaxScore     = 10
	NeutralScore = 5
)

// Turn is one message of a conversation. Seq is unique and increasing
// within a session. Turns are never modified after creation.
type Turn struct {
	Seq        int64     `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Importance int       `json:"importance,omitempty"` // 0 = unscored
	Tokens     int       `json:"tokens"`
}

// Score returns the importance used for pruning.
func (t Turn) Score() int {
	if t.Importance == 0 {
		return NeutralScore
	}
	return t.Importance
}

// SummaryLevel is one tier of the hierarchical summary. Level 0 covers the
// most recently evicted turns; higher levels are older and more compressed.
type SummaryLevel struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	FirstSeq int64  `json:"first_seq"`
	LastSeq  int64  `json:"last_seq"`
	Tokens   int    `json:"tokens"`
}

// Empty reports whether the level holds no summary.
func (l SummaryLevel) Empty() bool { return l.Text == "" }

// MemoryEntry is a turn persisted in the long-term index.
type MemoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a retrieved entry with its cosine similarity to the query.
type Match struct {
	MemoryEntry
	Similarity float64 `json:"similarity"`
}

// Fact is one profile statement about a user. Attribute is the normalized
// subject ("city", "diet"); facts sharing it contradict each other.
type Fact struct {
	ID        int64     `json:"id"`
	Attribute string    `json:"attribute,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Embedding []float32 `json:"-"`
}

// UserProfile is the accumulated fact set for one user.
type UserProfile struct {
	UserID      string    `json:"user_id"`
	Facts       []Fact    `json:"facts"`
	LastUpdated time.Time `json:"last_updated"`
}

// ErrStorage marks a failed read or write of persistent memory. Stores are
// dropped and logged; retrievals degrade to an empty result.
var ErrStorage = errors.New("memory: storage failure")

// ErrBudgetExceeded is reported when even the protected turns do not fit.
var ErrBudgetExceeded = errors.New("memory: token budget exceeded")

// ErrOutOfOrder is returned when turns are promoted out of sequence order.
var ErrOutOfOrder = errors.New("memory: promotion out of sequence order")

// ConsolidationConflict records a profile fact replaced by a newer one about
// the same attribute.
type ConsolidationConflict struct {
	UserID    string
	Attribute string
	Old       string
	New       string
}

func (c ConsolidationConflict) Error() string {
	return fmt.Sprintf("memory: fact %q for user %s superseded: %q -> %q", c.Attribute, c.UserID, c.Old, c.New)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
