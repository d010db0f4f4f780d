package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/memvra/recall/internal/export"
	"github.com/memvra/recall/internal/memory"
)

func newImportCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "import <transcript.jsonl>",
		Short: "Backfill long-term memory from a JSONL transcript",
		Long: `Read a transcript with one {"role": ..., "content": ...} object per line
and store every message in the user's long-term memory. Lines that cannot
be parsed or stored are counted and skipped.

Examples:
  recall import --user ana history.jsonl
  recall export --user ana --format jsonl | recall import --user ana2 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}

			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open transcript: %w", err)
				}
				defer f.Close()
				in = f
			}

			lines, bad, err := readTranscript(in)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			if len(lines) == 0 {
				fmt.Printf("Nothing to import (%d invalid lines).\n", bad)
				return nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = "import-" + time.Now().UTC().Format("20060102T150405")
			}

			bar := progressbar.NewOptions(len(lines),
				progressbar.OptionSetDescription("  Storing turns"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			stored, failed := importLines(ctx, a.longTerm, userID, sessionID, lines, func() { _ = bar.Add(1) })
			_ = bar.Finish()

			fmt.Printf("Imported %d turns into session %s", stored, sessionID)
			if failed+bad > 0 {
				fmt.Printf(" (%d invalid lines, %d failed to store)", bad, failed)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to file the turns under (default: import-<timestamp>)")

	return cmd
}

// readTranscript parses every non-blank line of r. Invalid lines are
// counted, not fatal.
func readTranscript(r io.Reader) ([]export.Line, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		lines []export.Line
		bad   int
	)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		l, err := export.ParseLine([]byte(raw))
		if err != nil {
			bad++
			continue
		}
		lines = append(lines, l)
	}
	return lines, bad, scanner.Err()
}

// turnStore is the part of the long-term index import writes to.
type turnStore interface {
	Store(ctx context.Context, userID, sessionID string, t memory.Turn) (memory.MemoryEntry, error)
}

// importLines stores lines as consecutive turns of sessionID. Lines that
// carry their own session id keep it.
func importLines(ctx context.Context, store turnStore, userID, sessionID string, lines []export.Line, progress func()) (stored, failed int) {
	seqs := make(map[string]int64)
	for _, l := range lines {
		sid := sessionID
		if l.SessionID != "" {
			sid = l.SessionID
		}
		seqs[sid]++
		t := memory.Turn{
			Seq:       seqs[sid],
			Role:      memory.Role(l.Role),
			Content:   l.Content,
			Timestamp: l.CreatedAt,
		}
		if _, err := store.Store(ctx, userID, sid, t); err != nil {
			failed++
		} else {
			stored++
		}
		if progress != nil {
			progress()
		}
	}
	return stored, failed
}
