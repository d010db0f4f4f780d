package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/memvra/recall/internal/memory"
)

// ErrSessionOwner is returned when a session id is reused by another user.
var ErrSessionOwner = errors.New("orchestrator: session belongs to another user")

// ErrUnknownSession is returned for a session id that is not active.
var ErrUnknownSession = errors.New("orchestrator: unknown session")

// Registry hands live sessions to the orchestrator. It is owned by the
// serving layer (CLI, MCP server); sessions missing from memory are
// resumed from the snapshot store when one is configured.
type Registry struct {
	snapshots memory.SnapshotStore
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*memory.Session
}

// NewRegistry returns an empty registry. snapshots may be nil.
func NewRegistry(snapshots memory.SnapshotStore, log zerolog.Logger) *Registry {
	return &Registry{
		snapshots: snapshots,
		log:       log,
		sessions:  make(map[string]*memory.Session),
	}
}

// Acquire returns the live session sessionID, resuming it from a snapshot
// or creating it with newSession when needed.
func (r *Registry) Acquire(ctx context.Context, userID, sessionID string, newSession func() *memory.Session) (*memory.Session, error) {
	if s, ok := r.Lookup(sessionID); ok {
		if s.UserID != userID {
			return nil, ErrSessionOwner
		}
		return s, nil
	}

	s := newSession()
	if r.snapshots != nil {
		snap, ok, err := r.snapshots.Load(ctx, sessionID)
		switch {
		case err != nil:
			r.log.Warn().Err(err).Str("session_id", sessionID).Msg("session snapshot unavailable, starting fresh")
		case ok && snap.UserID != userID:
			return nil, ErrSessionOwner
		case ok:
			s.Restore(snap)
			r.log.Debug().Str("session_id", sessionID).Int64("turns", snap.Turns).Msg("session resumed")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sessionID]; ok {
		if existing.UserID != userID {
			return nil, ErrSessionOwner
		}
		return existing, nil
	}
	r.sessions[sessionID] = s
	return s, nil
}

// Lookup returns the live session sessionID.
func (r *Registry) Lookup(sessionID string) (*memory.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove forgets s. A newer session registered under the same id is kept.
func (r *Registry) Remove(s *memory.Session) {
	r.mu.Lock()
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
}

// RemoveUser forgets and returns every live session of userID.
func (r *Registry) RemoveUser(userID string) []*memory.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*memory.Session
	for id, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
			delete(r.sessions, id)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Save persists a snapshot when a store is configured.
func (r *Registry) Save(ctx context.Context, snap memory.Snapshot) error {
	if r.snapshots == nil {
		return nil
	}
	if err := r.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("orchestrator: save snapshot: %w", err)
	}
	return nil
}

// DeleteUser removes every stored snapshot of userID.
func (r *Registry) DeleteUser(ctx context.Context, userID string) error {
	if r.snapshots == nil {
		return nil
	}
	if err := r.snapshots.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("orchestrator: delete snapshots: %w", err)
	}
	return nil
}
