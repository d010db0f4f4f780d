package memory

import "math"

// protectedTurns is how many of the newest turns eviction never touches.
const protectedTurns = 2

// Window holds the most recent verbatim turns within a token budget.
// It is not safe for concurrent use; the owning Session serializes access.
type Window struct {
	budget   int
	fraction float64

	turns      []Turn
	tokens     int
	overBudget bool
}

// NewWindow returns an empty window. fraction is the share of turns (by
// count) evicted per pass when over budget.
func NewWindow(budget int, fraction float64) *Window {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.4
	}
	return &Window{budget: budget, fraction: fraction}
}

// Append adds t and evicts the oldest complete exchanges until the window
// fits its budget. Evicted turns are returned in sequence order for
// promotion. When only the protected turns remain and they still exceed the
// budget, they are kept and OverBudget reports true.
func (w *Window) Append(t Turn) []Turn {
	w.turns = append(w.turns, t)
	w.tokens += t.Tokens

	var evicted []Turn
	for w.tokens > w.budget {
		cut := w.evictionCut()
		if cut == 0 {
			break
		}
		evicted = append(evicted, w.turns[:cut]...)
		for _, e := range w.turns[:cut] {
			w.tokens -= e.Tokens
		}
		w.turns = append([]Turn(nil), w.turns[cut:]...)
	}
	w.overBudget = w.tokens > w.budget
	return evicted
}

// evictionCut returns how many leading turns to evict in one pass: the
// configured fraction, never reaching into the protected tail and never
// separating a user turn from the assistant reply that follows it.
func (w *Window) evictionCut() int {
	n := len(w.turns)
	maxCut := n - protectedTurns
	if maxCut <= 0 {
		return 0
	}
	cut := int(math.Ceil(float64(n) * w.fraction))
	if cut < 1 {
		cut = 1
	}
	if cut > maxCut {
		cut = maxCut
	}
	if splitsPair(w.turns, cut) {
		if cut+1 <= maxCut {
			cut++
		} else {
			cut--
		}
	}
	return cut
}

// splitsPair reports whether cutting before index i separates a user turn
// from its reply.
func splitsPair(turns []Turn, i int) bool {
	if i <= 0 || i >= len(turns) {
		return false
	}
	return turns[i-1].Role == RoleUser && turns[i].Role == RoleAssistant
}

// Turns returns a copy of the window in sequence order.
func (w *Window) Turns() []Turn {
	return append([]Turn(nil), w.turns...)
}

// Tokens returns the summed token count of the window.
func (w *Window) Tokens() int { return w.tokens }

// Len returns the number of turns held.
func (w *Window) Len() int { return len(w.turns) }

// OverBudget reports the oversized-active-exchange warning state.
func (w *Window) OverBudget() bool { return w.overBudget }

// FirstSeq returns the sequence number of the oldest turn held.
func (w *Window) FirstSeq() (int64, bool) {
	if len(w.turns) == 0 {
		return 0, false
	}
	return w.turns[0].Seq, true
}

// Restore replaces the contents with turns from a snapshot.
func (w *Window) Restore(turns []Turn) {
	w.turns = append([]Turn(nil), turns...)
	w.tokens = 0
	for _, t := range w.turns {
		w.tokens += t.Tokens
	}
	w.overBudget = w.tokens > w.budget
}
