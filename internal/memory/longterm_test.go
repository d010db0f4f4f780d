package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/recall/internal/adapter/adaptertest"
	"github.com/memvra/recall/internal/db"
)

func newTestIndex(t *testing.T) (*LongTermIndex, *adaptertest.HashEmbedder, string) {
	t.Helper()
	database, path := openTestDB(t)
	emb := adaptertest.NewHashEmbedder(256)
	x := NewLongTermIndex(database, emb, LongTermConfig{MinSimilarity: 0.3, Retry: fastRetry()}, quietLog())
	return x, emb, path
}

func userTurn(seq int64, content string) Turn {
	return Turn{Seq: seq, Role: RoleUser, Content: content, Timestamp: time.Now()}
}

func TestLongTerm_RecallsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "My account ID is ABC123"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "alice", "s1", userTurn(3, "I really enjoy mountain biking on weekends"))
	require.NoError(t, err)

	matches, err := x.Retrieve(ctx, "alice", "what is my account ID", RetrieveOptions{TopK: 5, SessionID: "s2", ExcludeFromSeq: 1})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0].Content, "ABC123")
	assert.Equal(t, "s1", matches[0].SessionID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}
}

func TestLongTerm_UserIsolation(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "My account ID is ABC123"))
	require.NoError(t, err)

	matches, err := x.Retrieve(ctx, "bob", "what is my account ID", RetrieveOptions{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLongTerm_ExcludesTurnsStillInWindow(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "My account ID is ABC123"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "alice", "s1", userTurn(7, "My account ID is XYZ789"))
	require.NoError(t, err)

	matches, err := x.Retrieve(ctx, "alice", "my account ID", RetrieveOptions{TopK: 5, SessionID: "s1", ExcludeFromSeq: 5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Seq)
}

func TestLongTerm_TopKAndThreshold(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	for i := 1; i <= 8; i++ {
		_, err := x.Store(ctx, "alice", "s1", userTurn(int64(i), fmt.Sprintf("invoice number %d is overdue", i)))
		require.NoError(t, err)
	}
	_, err := x.Store(ctx, "alice", "s1", userTurn(9, "completely unrelated chatter about sailing"))
	require.NoError(t, err)

	matches, err := x.Retrieve(ctx, "alice", "which invoice is overdue", RetrieveOptions{TopK: 3})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, 0.3)
		assert.Contains(t, m.Content, "invoice")
	}
}

func TestLongTerm_DuplicateTurnKeepsFirst(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "first copy"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "alice", "s1", userTurn(1, "second copy"))
	require.NoError(t, err)

	entries, err := x.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first copy", entries[0].Content)
}

func TestLongTerm_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	x, emb, path := newTestIndex(t)

	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "My account ID is ABC123"))
	require.NoError(t, err)
	require.NoError(t, x.db.Close())

	reopened, err := db.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	y := NewLongTermIndex(reopened, emb, LongTermConfig{MinSimilarity: 0.3, Retry: fastRetry()}, quietLog())

	matches, err := y.Retrieve(ctx, "alice", "account ID", RetrieveOptions{TopK: 5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Content, "ABC123")
}

func TestLongTerm_RetriesTransientEmbeddingFailures(t *testing.T) {
	ctx := context.Background()
	x, emb, _ := newTestIndex(t)

	emb.FailNext(2)
	_, err := x.Store(ctx, "alice", "s1", userTurn(1, "hello there"))
	require.NoError(t, err)
	assert.Equal(t, 3, emb.Calls())

	emb.FailNext(3)
	_, err = x.Store(ctx, "alice", "s1", userTurn(2, "dropped turn"))
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, 6, emb.Calls())

	n, err := x.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLongTerm_Erase(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex(t)

	for i := 1; i <= 3; i++ {
		_, err := x.Store(ctx, "alice", "s1", userTurn(int64(i), fmt.Sprintf("note %d about taxes", i)))
		require.NoError(t, err)
	}
	_, err := x.Store(ctx, "bob", "s9", userTurn(1, "bob's note about taxes"))
	require.NoError(t, err)

	n, err := x.Erase(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := x.Retrieve(ctx, "alice", "taxes", RetrieveOptions{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err = x.Erase(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := x.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestLongTerm_RejectsEmpty(t *testing.T) {
	x, _, _ := newTestIndex(t)
	_, err := x.Store(context.Background(), "", "s1", userTurn(1, "x"))
	assert.Error(t, err)
	_, err = x.Store(context.Background(), "alice", "s1", userTurn(1, "   "))
	assert.Error(t, err)

	matches, err := x.Retrieve(context.Background(), "alice", "", RetrieveOptions{TopK: 5})
	assert.NoError(t, err)
	assert.Empty(t, matches)
}
