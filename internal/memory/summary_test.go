package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/recall/internal/tokenizer"
)

func TestSummaryStore_BoundedOverLongConversation(t *testing.T) {
	s := NewSummaryStore([]int{500, 400, 300}, newTestCompressor(nil), tokenizer.Estimator{})
	turns := conversation(200, 60)

	for i := 0; i < len(turns); i += 4 {
		require.NoError(t, s.Promote(context.Background(), turns[i:i+4]))
		assert.LessOrEqual(t, s.Tokens(), s.Bound())
		for j, l := range s.Levels() {
			assert.LessOrEqual(t, l.Tokens, []int{500, 400, 300}[j])
		}
	}
	assert.Equal(t, 50, s.Promotions())
	assert.False(t, s.Levels()[2].Empty(), "a long conversation should reach the last level")
}

func TestSummaryStore_RenderOldestFirst(t *testing.T) {
	s := NewSummaryStore([]int{40, 40, 40}, newTestCompressor(nil), tokenizer.Estimator{})
	turns := conversation(40, 30)
	for i := 0; i < len(turns); i += 2 {
		require.NoError(t, s.Promote(context.Background(), turns[i:i+2]))
	}

	out := s.Render()
	early := strings.Index(out, "Early conversation:")
	require.GreaterOrEqual(t, early, 0, out)
	if recent := strings.Index(out, "Recent context:"); recent >= 0 {
		assert.Less(t, early, recent)
	}
}

func TestSummaryStore_RejectsOutOfOrder(t *testing.T) {
	s := NewSummaryStore(nil, newTestCompressor(nil), tokenizer.Estimator{})
	turns := conversation(6, 20)

	require.NoError(t, s.Promote(context.Background(), turns[2:4]))
	err := s.Promote(context.Background(), turns[0:2])
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 1, s.Promotions())
}

func TestSummaryStore_EmptyRender(t *testing.T) {
	s := NewSummaryStore(nil, newTestCompressor(nil), tokenizer.Estimator{})
	assert.Empty(t, s.Render())
	assert.NoError(t, s.Promote(context.Background(), nil))
}

func TestSummaryStore_Restore(t *testing.T) {
	s := NewSummaryStore([]int{500, 400}, newTestCompressor(nil), tokenizer.Estimator{})
	s.Restore([]SummaryLevel{
		{Index: 0, Text: "recent", FirstSeq: 9, LastSeq: 12},
		{Index: 5, Text: "ancient", FirstSeq: 1, LastSeq: 4},
	}, 3)

	levels := s.Levels()
	assert.Equal(t, "recent", levels[0].Text)
	assert.Equal(t, "ancient", levels[1].Text)
	assert.Equal(t, 3, s.Promotions())

	err := s.Promote(context.Background(), []Turn{{Seq: 12, Role: RoleUser, Content: "late"}})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}
