package orchestrator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/recall/internal/memory"
	"github.com/memvra/recall/internal/tokenizer"
)

func factory(userID, sessionID string) func() *memory.Session {
	return func() *memory.Session {
		comp := memory.NewLLMCompressor(nil, tokenizer.Estimator{}, memory.CompressorConfig{}, zerolog.Nop())
		return memory.NewSession(userID, sessionID, memory.SessionConfig{WindowBudget: 100}, comp, tokenizer.Estimator{})
	}
}

func TestRegistry_AcquireReturnsSameSession(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zerolog.Nop())

	a, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)
	b, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RejectsOtherOwner(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zerolog.Nop())
	_, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "ben", "s1", factory("ben", "s1"))
	assert.ErrorIs(t, err, ErrSessionOwner)
}

func TestRegistry_ResumesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemorySnapshots()
	require.NoError(t, store.Save(ctx, memory.Snapshot{
		SessionID: "s1",
		UserID:    "ana",
		NextSeq:   3,
		Window: []memory.Turn{
			{Seq: 1, Role: memory.RoleUser, Content: "hi", Tokens: 1},
			{Seq: 2, Role: memory.RoleAssistant, Content: "hello", Tokens: 2},
		},
		Turns: 2,
	}))
	r := NewRegistry(store, zerolog.Nop())

	s, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)
	assert.Len(t, s.WindowTurns(), 2)
	assert.Equal(t, int64(3), s.NextSeq())

	r.Remove(s)
	_, err = r.Acquire(ctx, "ben", "s1", factory("ben", "s1"))
	assert.ErrorIs(t, err, ErrSessionOwner, "a snapshot keeps its owner")
}

func TestRegistry_RemoveKeepsNewerSession(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zerolog.Nop())

	old, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)
	r.RemoveUser("ana")
	fresh, err := r.Acquire(ctx, "ana", "s1", factory("ana", "s1"))
	require.NoError(t, err)

	r.Remove(old)
	got, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	r.Remove(fresh)
	assert.Zero(t, r.Len())
}

func TestRegistry_RemoveUser(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, zerolog.Nop())
	for _, id := range []string{"s1", "s2"} {
		_, err := r.Acquire(ctx, "ana", id, factory("ana", id))
		require.NoError(t, err)
	}
	_, err := r.Acquire(ctx, "ben", "s3", factory("ben", "s3"))
	require.NoError(t, err)

	removed := r.RemoveUser("ana")
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup("s3")
	assert.True(t, ok)
}

func TestRegistry_NilStoreIsNoop(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	assert.NoError(t, r.Save(context.Background(), memory.Snapshot{SessionID: "s1"}))
	assert.NoError(t, r.DeleteUser(context.Background(), "ana"))
}
