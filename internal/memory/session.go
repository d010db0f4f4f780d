package memory

import (
	"context"
	"sync"
	"time"

	"github.com/memvra/recall/internal/tokenizer"
)

// SessionConfig sizes the session-owned layers.
type SessionConfig struct {
	WindowBudget  int
	EvictFraction float64
	Thresholds    []int
}

// SessionStats is a point-in-time view of a session for diagnostics.
type SessionStats struct {
	WindowTokens       int
	WindowTurns        int
	WindowOverBudget   bool
	SummaryTokens      int
	SummaryLevels      []int
	Promotions         int
	Turns              int64
	LastRetrieved      int
	LastPromptTokens   int
	LastBudgetExceeded bool
	LastDegraded       bool
	LastActive         time.Time
}

// Session is one user's conversation. It owns the rolling window and the
// summary levels; long-term memory and the profile are shared and live
// elsewhere. Callers hold Lock for the whole of a turn so that turns of one
// session never interleave.
type Session struct {
	ID     string
	UserID string

	mu        sync.Mutex
	window    *Window
	summaries *SummaryStore
	counter   tokenizer.Counter
	nextSeq   int64
	pending   []Turn
	turns     int64
	closed    bool

	statsMu sync.Mutex
	stats   SessionStats
}

// NewSession returns an empty session.
func NewSession(userID, sessionID string, cfg SessionConfig, compressor Compressor, counter tokenizer.Counter) *Session {
	s := &Session{
		ID:        sessionID,
		UserID:    userID,
		window:    NewWindow(cfg.WindowBudget, cfg.EvictFraction),
		summaries: NewSummaryStore(cfg.Thresholds, compressor, counter),
		counter:   counter,
		nextSeq:   1,
	}
	s.refreshStats()
	return s
}

// Lock serializes turn processing for the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Close marks the session as retired from the registry. A turn that was
// queued on Lock must check Closed and fetch the session again. Callers
// hold Lock.
func (s *Session) Close() { s.closed = true }

// Closed reports whether Close was called. Callers hold Lock.
func (s *Session) Closed() bool { return s.closed }

// NextSeq reserves the next sequence number.
func (s *Session) NextSeq() int64 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// NewTurn builds a turn with its token count.
func (s *Session) NewTurn(seq int64, role Role, content string, importance int) Turn {
	return Turn{
		Seq:        seq,
		Role:       role,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Importance: importance,
		Tokens:     s.counter.Count(content),
	}
}

// Append adds t to the window and promotes whatever the window evicts.
func (s *Session) Append(ctx context.Context, t Turn) error {
	evicted := s.window.Append(t)
	s.pending = append(s.pending, t)
	s.turns++
	var err error
	if len(evicted) > 0 {
		err = s.summaries.Promote(ctx, evicted)
	}
	s.refreshStats()
	return err
}

// WindowTurns returns the verbatim turns in sequence order.
func (s *Session) WindowTurns() []Turn { return s.window.Turns() }

// FirstWindowSeq returns the oldest sequence number still verbatim.
func (s *Session) FirstWindowSeq() (int64, bool) { return s.window.FirstSeq() }

// Summary renders the summary levels, oldest first.
func (s *Session) Summary() string { return s.summaries.Render() }

// TakePending returns the turns appended since the last call once at least
// min of them have accumulated. min <= 0 takes whatever is pending.
func (s *Session) TakePending(min int) ([]Turn, bool) {
	if len(s.pending) == 0 || (min > 0 && len(s.pending) < min) {
		return nil, false
	}
	out := s.pending
	s.pending = nil
	return out, true
}

// RecordTurn stores the outcome of the latest turn for diagnostics.
func (s *Session) RecordTurn(retrieved, promptTokens int, budgetExceeded, degraded bool) {
	s.statsMu.Lock()
	s.stats.LastRetrieved = retrieved
	s.stats.LastPromptTokens = promptTokens
	s.stats.LastBudgetExceeded = budgetExceeded
	s.stats.LastDegraded = degraded
	s.stats.LastActive = time.Now().UTC()
	s.statsMu.Unlock()
}

func (s *Session) refreshStats() {
	levels := s.summaries.Levels()
	tokens := make([]int, len(levels))
	for i, l := range levels {
		tokens[i] = l.Tokens
	}
	s.statsMu.Lock()
	s.stats.WindowTokens = s.window.Tokens()
	s.stats.WindowTurns = s.window.Len()
	s.stats.WindowOverBudget = s.window.OverBudget()
	s.stats.SummaryTokens = s.summaries.Tokens()
	s.stats.SummaryLevels = tokens
	s.stats.Promotions = s.summaries.Promotions()
	s.stats.Turns = s.turns
	s.statsMu.Unlock()
}

// Stats returns the latest diagnostics without waiting for an in-flight turn.
func (s *Session) Stats() SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.SummaryLevels = append([]int(nil), s.stats.SummaryLevels...)
	return st
}

// Snapshot captures the session-owned layers.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:  s.ID,
		UserID:     s.UserID,
		NextSeq:    s.nextSeq,
		Window:     s.window.Turns(),
		Levels:     s.summaries.Levels(),
		Promotions: s.summaries.Promotions(),
		Pending:    append([]Turn(nil), s.pending...),
		Turns:      s.turns,
		SavedAt:    time.Now().UTC(),
	}
}

// Restore loads a snapshot into an empty session.
func (s *Session) Restore(snap Snapshot) {
	s.window.Restore(snap.Window)
	s.summaries.Restore(snap.Levels, snap.Promotions)
	s.pending = append([]Turn(nil), snap.Pending...)
	s.turns = snap.Turns
	s.nextSeq = snap.NextSeq
	for _, t := range snap.Window {
		if t.Seq >= s.nextSeq {
			s.nextSeq = t.Seq + 1
		}
	}
	if s.nextSeq < 1 {
		s.nextSeq = 1
	}
	s.refreshStats()
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id"`
	NextSeq    int64          `json:"next_seq"`
	Window     []Turn         `json:"window"`
	Levels     []SummaryLevel `json:"levels"`
	Promotions int            `json:"promotions"`
	Pending    []Turn         `json:"pending,omitempty"`
	Turns      int64          `json:"turns"`
	SavedAt    time.Time      `json:"saved_at"`
}

// SnapshotStore persists sessions between processes.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, bool, error)
	DeleteUser(ctx context.Context, userID string) error
}

// InMemorySnapshots keeps snapshots for the life of the process.
type InMemorySnapshots struct {
	mu sync.Mutex
	m  map[string]Snapshot
}

// NewInMemorySnapshots returns an empty store.
func NewInMemorySnapshots() *InMemorySnapshots {
	return &InMemorySnapshots{m: make(map[string]Snapshot)}
}

func (s *InMemorySnapshots) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	s.m[snap.SessionID] = snap
	s.mu.Unlock()
	return nil
}

func (s *InMemorySnapshots) Load(_ context.Context, sessionID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[sessionID]
	return snap, ok, nil
}

func (s *InMemorySnapshots) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, snap := range s.m {
		if snap.UserID == userID {
			delete(s.m, id)
		}
	}
	return nil
}
