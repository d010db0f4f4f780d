package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newEraseCmd() *cobra.Command {
	var (
		userID string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Permanently delete everything stored about a user",
		Long: `Delete a user's long-term memory, profile facts and saved sessions.
This cannot be undone.

Examples:
  recall erase --user ana
  recall erase --user ana --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}
			if !yes && !confirmPrompt(os.Stdin, fmt.Sprintf("This will delete ALL memory of user %q. Continue?", userID)) {
				fmt.Println("Aborted.")
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

			report, err := a.orch.Erase(ctx, userID)
			if err != nil {
				return fmt.Errorf("erase: %w", err)
			}
			fmt.Printf("Deleted %d stored turns and the profile of %s.\n", report.Entries, userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func confirmPrompt(in io.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(in)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
