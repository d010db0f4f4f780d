package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the facts learned about a user",
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

			prof, err := a.profiles.Profile(ctx, userID)
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}
			if len(prof.Facts) == 0 {
				fmt.Printf("No facts known about %s.\n", userID)
				return nil
			}

			fmt.Printf("Profile of %s (%d facts, updated %s)\n\n", userID, len(prof.Facts),
				prof.LastUpdated.Format("2006-01-02 15:04"))
			for _, f := range prof.Facts {
				if f.Attribute != "" {
					fmt.Printf("  %-12s %s\n", "["+f.Attribute+"]", f.Text)
				} else {
					fmt.Printf("  %-12s %s\n", "", f.Text)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	return cmd
}
