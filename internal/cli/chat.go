package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/memvra/recall/internal/orchestrator"
)

func newChatCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation with memory",
		Long: `Chat with the configured model. Every turn is stored and the prompt is
assembled from the user profile, retrieved past turns, the session summary
and the recent window.

Commands inside the chat:
  /diag   show the session's memory diagnostics
  /end    save the session and quit
  /quit   quit (same as /end or Ctrl-D)

Examples:
  recall chat --user ana
  recall chat --user ana --session trip-planning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
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

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Printf("Session %s. Type /quit to leave.\n", sessionID)
			}

			err = runChat(ctx, a.orch, userID, sessionID, os.Stdin, os.Stdout, interactive, verbose)
			if endErr := a.orch.EndSession(ctx, sessionID); endErr != nil && !errors.Is(endErr, orchestrator.ErrUnknownSession) {
				stderrf("Warning: could not save session: %v\n", endErr)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to start or resume (default: new)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print token usage after every reply")

	return cmd
}

// chatService is the part of the orchestrator the chat loop drives.
type chatService interface {
	HandleTurn(ctx context.Context, userID, sessionID, message string) (orchestrator.Reply, error)
	Diagnostics(sessionID string) (orchestrator.Diagnostics, error)
}

// runChat reads one message per line from in until EOF or /quit.
func runChat(ctx context.Context, svc chatService, userID, sessionID string, in io.Reader, out io.Writer, prompt, verbose bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit", "/end":
			return nil
		case "/diag":
			diag, err := svc.Diagnostics(sessionID)
			if err != nil {
				fmt.Fprintln(out, "No turns in this session yet.")
				continue
			}
			printDiagnostics(out, diag)
			continue
		}

		reply, err := svc.HandleTurn(ctx, userID, sessionID, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.Text)
		if verbose {
			fmt.Fprintf(out, "  [%d prompt tokens, %d retrieved%s]\n",
				reply.PromptTokens, reply.Retrieved, flags(reply))
		}
	}
	return scanner.Err()
}

func flags(r orchestrator.Reply) string {
	var parts []string
	if r.BudgetExceeded {
		parts = append(parts, "over budget")
	}
	if r.Degraded {
		parts = append(parts, "degraded")
	}
	if r.Failed {
		parts = append(parts, "fallback")
	}
	if len(parts) == 0 {
		return ""
	}
	return ", " + strings.Join(parts, ", ")
}

func printDiagnostics(w io.Writer, d orchestrator.Diagnostics) {
	fmt.Fprintf(w, "Session:        %s (user %s)\n", d.SessionID, d.UserID)
	fmt.Fprintf(w, "Turns:          %d\n", d.Turns)
	fmt.Fprintf(w, "Window:         %d tokens in %d turns", d.WindowTokens, d.WindowTurns)
	if d.WindowOverBudget {
		fmt.Fprint(w, " (over budget)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary:        %d tokens %v, %d promotions\n", d.SummaryTokens, d.SummaryLevels, d.Promotions)
	fmt.Fprintf(w, "Last retrieval: %d entries\n", d.RetrievedCount)
	fmt.Fprintf(w, "Last prompt:    %d tokens", d.LastPromptTokens)
	if d.LastBudgetExceeded {
		fmt.Fprint(w, " (budget exceeded)")
	}
	if d.LastDegraded {
		fmt.Fprint(w, " (degraded)")
	}
	fmt.Fprintln(w)
	if !d.LastActive.IsZero() {
		fmt.Fprintf(w, "Last active:    %s\n", d.LastActive.Format("2006-01-02 15:04:05"))
	}
}
