package memory

import "sort"

// rankMatches sorts by similarity (older first on ties), drops matches
// below minSimilarity and keeps topK.
func rankMatches(matches []Match, minSimilarity float64, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	out := make([]Match, 0, topK)
	for _, m := range matches {
		if len(out) == topK {
			break
		}
		if m.Similarity < minSimilarity {
			continue
		}
		out = append(out, m)
	}
	return out
}
