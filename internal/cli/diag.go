package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDiagCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Show memory diagnostics for a user or a saved session",
		Long: `Print how much a user has stored and, with --session, the token usage of
a saved session's window and summary levels.

Examples:
  recall diag --user ana
  recall diag --user ana --session s1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
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

			entries, err := a.longTerm.Count(ctx, userID)
			if err != nil {
				return fmt.Errorf("count memory: %w", err)
			}
			prof, err := a.profiles.Profile(ctx, userID)
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			fmt.Printf("User:           %s\n", userID)
			fmt.Printf("Stored turns:   %d\n", entries)
			fmt.Printf("Profile facts:  %d\n", len(prof.Facts))
			fmt.Printf("Vector search:  %v\n", a.db.VectorSupport())

			if sessionID == "" {
				return nil
			}
			if err := a.orch.Resume(ctx, userID, sessionID); err != nil {
				return fmt.Errorf("resume session: %w", err)
			}
			diag, err := a.orch.Diagnostics(sessionID)
			if err != nil {
				return err
			}
			fmt.Println()
			printDiagnostics(os.Stdout, diag)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "saved session to inspect")

	return cmd
}
