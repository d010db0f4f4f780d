package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/memvra/recall/internal/adapter"
	"github.com/memvra/recall/internal/db"
)

func openTestDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recall.db")
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database, path
}

func fastRetry() adapter.RetryPolicy {
	return adapter.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func quietLog() zerolog.Logger { return zerolog.Nop() }

// words returns n distinct filler words.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

// conversation returns n alternating user/assistant turns starting at seq
// 1, each costing tokens.
func conversation(n, tokens int) []Turn {
	out := make([]Turn, n)
	for i := range out {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out[i] = Turn{Seq: int64(i + 1), Role: role, Content: words("word", tokens), Tokens: tokens}
	}
	return out
}
