package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message through the memory manager",
		Long: `Send a single message and print the reply. The session is saved
afterwards so a later 'ask' or 'chat' with the same --session continues it.

Examples:
  recall ask --user ana "What was my account ID again?"
  recall ask --user ana --session s1 "And the deadline?" -v`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}
			message := strings.Join(args, " ")
			if sessionID == "" {
				sessionID = "ask-" + userID
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

			reply, err := a.orch.HandleTurn(ctx, userID, sessionID, message)
			if err != nil {
				return err
			}
			fmt.Println(reply.Text)

			if verbose {
				if diag, err := a.orch.Diagnostics(sessionID); err == nil {
					fmt.Fprintln(os.Stderr)
					printDiagnostics(os.Stderr, diag)
				}
			}

			if err := a.orch.EndSession(ctx, sessionID); err != nil {
				stderrf("Warning: could not save session: %v\n", err)
			}
			if reply.Failed {
				return fmt.Errorf("model unavailable, fallback reply returned")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: ask-<user>)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print session diagnostics to stderr")

	return cmd
}
