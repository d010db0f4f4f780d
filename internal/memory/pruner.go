package memory

import "slices"

// PruneResult is the outcome of fitting turns into a budget.
type PruneResult struct {
	Kept    []Turn
	Dropped []Turn
	Tokens  int
	// BudgetExceeded is set when only protected turns remain and they
	// still do not fit.
	BudgetExceeded bool
}

// Pruner drops low-importance turns until a window fits a token budget.
type Pruner struct {
	overhead int
}

// NewPruner returns a pruner that charges overhead tokens per message on
// top of each turn's content.
func NewPruner(overhead int) *Pruner {
	if overhead < 0 {
		overhead = 0
	}
	return &Pruner{overhead: overhead}
}

// Cost is the number of tokens t occupies in a prompt.
func (p *Pruner) Cost(t Turn) int { return t.Tokens + p.overhead }

// Overhead is the per-message framing cost.
func (p *Pruner) Overhead() int { return p.overhead }

// Prune removes the lowest-scoring turn (oldest first among equal scores)
// together with its conversational partner until the rest fits budget. The
// two newest turns, and the user turn answered by a protected assistant
// turn, are never removed. The result is deterministic for a given input.
func (p *Pruner) Prune(turns []Turn, budget int) PruneResult {
	alive := make([]bool, len(turns))
	total := 0
	for i, t := range turns {
		alive[i] = true
		total += p.Cost(t)
	}

	protectedFrom := protectedStart(turns)
	var dropped []int
	for total > budget {
		victim := -1
		for i := 0; i < protectedFrom; i++ {
			if !alive[i] {
				continue
			}
			if victim == -1 || turns[i].Score() < turns[victim].Score() {
				victim = i
			}
		}
		if victim == -1 {
			break
		}
		for _, i := range []int{victim, partnerOf(turns, alive, victim, protectedFrom)} {
			if i < 0 {
				continue
			}
			alive[i] = false
			total -= p.Cost(turns[i])
			dropped = append(dropped, i)
		}
	}

	res := PruneResult{Tokens: total, BudgetExceeded: total > budget}
	for i, t := range turns {
		if alive[i] {
			res.Kept = append(res.Kept, t)
		}
	}
	slices.Sort(dropped)
	for _, i := range dropped {
		res.Dropped = append(res.Dropped, turns[i])
	}
	return res
}

// protectedStart returns the index of the first protected turn.
func protectedStart(turns []Turn) int {
	start := len(turns) - protectedTurns
	if start < 0 {
		return 0
	}
	if splitsPair(turns, start) {
		start--
	}
	return start
}

// partnerOf returns the index of the other half of victim's user/assistant
// exchange, or -1 when it has none that may be removed.
func partnerOf(turns []Turn, alive []bool, victim, protectedFrom int) int {
	switch turns[victim].Role {
	case RoleUser:
		if j := victim + 1; j < protectedFrom && alive[j] && turns[j].Role == RoleAssistant {
			return j
		}
	case RoleAssistant:
		if j := victim - 1; j >= 0 && alive[j] && turns[j].Role == RoleUser {
			return j
		}
	}
	return -1
}
