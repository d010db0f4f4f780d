package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/recall/internal/adapter/adaptertest"
)

func TestHeuristicScorer(t *testing.T) {
	s, err := NewHeuristicScorer(HeuristicConfig{})
	require.NoError(t, err)

	tests := []struct {
		content string
		want    int
	}{
		{"My account number is ABC-12345", 9},
		{"The report deadline is 2026-03-01", 7},
		{"What's the weather like?", 5},
		{"thanks!", 3},
		{"hello", 3},
		{"hi um", 1},
	}
	for _, tt := range tests {
		got := s.Score(context.Background(), Turn{Role: RoleUser, Content: tt.content})
		assert.Equal(t, tt.want, got, tt.content)
	}
}

func TestHeuristicScorer_LongMessageBonus(t *testing.T) {
	s, err := NewHeuristicScorer(HeuristicConfig{LongMessageWords: 5})
	require.NoError(t, err)

	got := s.Score(context.Background(), Turn{Content: "this message has more than five plain words"})
	assert.Equal(t, 6, got)
}

func TestHeuristicScorer_Clamps(t *testing.T) {
	s, err := NewHeuristicScorer(HeuristicConfig{HighPatterns: []string{`a`, `b`, `c`, `d`}})
	require.NoError(t, err)

	assert.Equal(t, MaxScore, s.Score(context.Background(), Turn{Content: "abcd"}))
}

func TestHeuristicScorer_BadPattern(t *testing.T) {
	_, err := NewHeuristicScorer(HeuristicConfig{HighPatterns: []string{`(`}})
	assert.Error(t, err)
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		parsed bool
	}{
		{"8", 8, true},
		{" 10\n", 10, true},
		{"Score: 3/10", 3, true},
		{"0", NeutralScore, false},
		{"11", NeutralScore, false},
		{"very important", NeutralScore, false},
		{"", NeutralScore, false},
	}
	for _, tt := range tests {
		got := ParseScore(tt.raw)
		assert.Equal(t, tt.want, got.Value, tt.raw)
		assert.Equal(t, tt.parsed, got.Parsed, tt.raw)
	}
}

func TestDelegatedScorer(t *testing.T) {
	gen := adaptertest.Reply("8")
	s := NewDelegatedScorer(gen, "", time.Second, quietLog())

	got := s.Score(context.Background(), Turn{Role: RoleUser, Content: "My PIN changed"})
	assert.Equal(t, 8, got)
	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.Contains(adaptertest.Prompt(calls[0]), "My PIN changed"))
}

func TestDelegatedScorer_DegradesToNeutral(t *testing.T) {
	ctx := context.Background()

	unparseable := NewDelegatedScorer(adaptertest.Reply("quite important"), "", time.Second, quietLog())
	assert.Equal(t, ScoreResult{Value: NeutralScore}, unparseable.Rate(ctx, Turn{Content: "x"}))

	failing := NewDelegatedScorer(adaptertest.Failing(), "", time.Second, quietLog())
	assert.Equal(t, NeutralScore, failing.Score(ctx, Turn{Content: "x"}))
}

func TestDelegatedScorer_Timeout(t *testing.T) {
	s := NewDelegatedScorer(adaptertest.Blocking(), "", 20*time.Millisecond, quietLog())

	start := time.Now()
	got := s.Score(context.Background(), Turn{Content: "x"})

	assert.Equal(t, NeutralScore, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}
