package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/recall/internal/tokenizer"
)

// SummaryStore keeps cascading summary levels fed by window evictions.
// Level i that grows past thresholds[i] is condensed into level i+1 and
// cleared; the last level condenses in place. Total size is therefore
// bounded by the sum of the thresholds.
type SummaryStore struct {
	thresholds []int
	levels     []SummaryLevel
	compressor Compressor
	counter    tokenizer.Counter

	lastSeq    int64
	promotions int
}

// NewSummaryStore returns a store with one level per threshold.
func NewSummaryStore(thresholds []int, compressor Compressor, counter tokenizer.Counter) *SummaryStore {
	if len(thresholds) == 0 {
		thresholds = []int{500, 400, 300}
	}
	levels := make([]SummaryLevel, len(thresholds))
	for i := range levels {
		levels[i].Index = i
	}
	return &SummaryStore{
		thresholds: append([]int(nil), thresholds...),
		levels:     levels,
		compressor: compressor,
		counter:    counter,
	}
}

// Promote digests turns evicted from the window into level 0 and cascades.
// Turns must arrive in sequence order, after every previously promoted turn.
func (s *SummaryStore) Promote(ctx context.Context, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	prev := s.lastSeq
	for _, t := range turns {
		if t.Seq <= prev {
			return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, t.Seq, prev)
		}
		prev = t.Seq
	}

	digest := s.compressor.Compress(ctx, turns, StyleDigest)
	s.appendTo(0, digest.Text, turns[0].Seq, turns[len(turns)-1].Seq)
	s.lastSeq = prev
	s.promotions++
	s.cascade(ctx)
	return nil
}

func (s *SummaryStore) appendTo(i int, text string, first, last int64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	lvl := &s.levels[i]
	if lvl.Empty() {
		lvl.Text = text
		lvl.FirstSeq = first
	} else {
		lvl.Text += "\n" + text
	}
	lvl.LastSeq = last
	lvl.Tokens = s.counter.Count(lvl.Text)
}

func (s *SummaryStore) cascade(ctx context.Context) {
	last := len(s.levels) - 1
	for i := range s.levels {
		lvl := &s.levels[i]
		if lvl.Tokens <= s.thresholds[i] {
			continue
		}
		condensed := s.compressor.CompressText(ctx, lvl.Text, StyleCondense)
		if i == last {
			first, lastSeq := lvl.FirstSeq, lvl.LastSeq
			*lvl = SummaryLevel{Index: i}
			s.appendTo(i, tokenizer.Fit(s.counter, condensed.Text, s.thresholds[i]), first, lastSeq)
			continue
		}
		s.appendTo(i+1, condensed.Text, lvl.FirstSeq, lvl.LastSeq)
		*lvl = SummaryLevel{Index: i}
	}
}

// Render concatenates the levels from oldest (highest index) to newest.
func (s *SummaryStore) Render() string {
	var parts []string
	for i := len(s.levels) - 1; i >= 0; i-- {
		lvl := s.levels[i]
		if lvl.Empty() {
			continue
		}
		parts = append(parts, levelLabel(i, len(s.levels))+"\n"+lvl.Text)
	}
	return strings.Join(parts, "\n\n")
}

func levelLabel(i, n int) string {
	switch {
	case i == 0:
		return "Recent context:"
	case i == n-1:
		return "Early conversation:"
	default:
		return fmt.Sprintf("Earlier context (level %d):", i)
	}
}

// Tokens returns the summed token count of all levels.
func (s *SummaryStore) Tokens() int {
	total := 0
	for _, l := range s.levels {
		total += l.Tokens
	}
	return total
}

// Bound is the maximum Tokens can reach.
func (s *SummaryStore) Bound() int {
	total := 0
	for _, th := range s.thresholds {
		total += th
	}
	return total
}

// Levels returns a copy of the levels, index 0 first.
func (s *SummaryStore) Levels() []SummaryLevel {
	return append([]SummaryLevel(nil), s.levels...)
}

// Promotions counts Promote calls that added a digest.
func (s *SummaryStore) Promotions() int { return s.promotions }

// Restore loads levels from a snapshot. Levels beyond the configured depth
// are folded into the last level's text.
func (s *SummaryStore) Restore(levels []SummaryLevel, promotions int) {
	for i := range s.levels {
		s.levels[i] = SummaryLevel{Index: i}
	}
	for _, l := range levels {
		i := l.Index
		if i < 0 {
			continue
		}
		if i >= len(s.levels) {
			i = len(s.levels) - 1
		}
		s.appendTo(i, l.Text, l.FirstSeq, l.LastSeq)
		if l.LastSeq > s.lastSeq {
			s.lastSeq = l.LastSeq
		}
	}
	s.promotions = promotions
}
