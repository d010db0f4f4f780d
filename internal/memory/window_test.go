package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_StaysWithinBudget(t *testing.T) {
	w := NewWindow(500, 0.4)
	var evicted []Turn

	for _, turn := range conversation(30, 40) {
		evicted = append(evicted, w.Append(turn)...)
		assert.LessOrEqual(t, w.Tokens(), 500)
		assert.False(t, w.OverBudget())
	}

	require.NotEmpty(t, evicted)
	assert.Equal(t, 30, len(evicted)+w.Len(), "every turn is either held or evicted")
	for i := 1; i < len(evicted); i++ {
		assert.Greater(t, evicted[i].Seq, evicted[i-1].Seq, "evictions come out in sequence order")
	}
	first, ok := w.FirstSeq()
	require.True(t, ok)
	assert.Equal(t, evicted[len(evicted)-1].Seq+1, first)
}

func TestWindow_NeverSplitsExchange(t *testing.T) {
	w := NewWindow(100, 0.4)
	for _, turn := range conversation(21, 15) {
		w.Append(turn)
		held := w.Turns()
		assert.Equal(t, RoleUser, held[0].Role, "window should start on a user turn, got seq %d", held[0].Seq)
	}
}

func TestWindow_OversizedExchangeIsKept(t *testing.T) {
	w := NewWindow(100, 0.4)
	w.Append(Turn{Seq: 1, Role: RoleUser, Tokens: 10})
	w.Append(Turn{Seq: 2, Role: RoleAssistant, Tokens: 10})

	evicted := w.Append(Turn{Seq: 3, Role: RoleUser, Tokens: 80})
	evicted = append(evicted, w.Append(Turn{Seq: 4, Role: RoleAssistant, Tokens: 90})...)

	require.Len(t, evicted, 2)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 170, w.Tokens())
	assert.True(t, w.OverBudget())
}

func TestWindow_Restore(t *testing.T) {
	w := NewWindow(500, 0.4)
	w.Restore(conversation(4, 10))

	assert.Equal(t, 4, w.Len())
	assert.Equal(t, 40, w.Tokens())
	first, ok := w.FirstSeq()
	assert.True(t, ok)
	assert.Equal(t, int64(1), first)
}

func TestWindow_EmptyFirstSeq(t *testing.T) {
	_, ok := NewWindow(10, 0.4).FirstSeq()
	assert.False(t, ok)
}
