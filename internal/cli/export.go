package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/recall/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		userID string
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export everything stored about a user",
		Long: `Render a user's profile and stored conversation turns for a data
portability request. Output is written to stdout unless --output is given.

Examples:
  recall export --user ana --format json > ana.json
  recall export --user ana --format markdown
  recall export --user ana --format jsonl -o ana.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}
			exporter, ok := export.Get(strings.ToLower(format))
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s",
					format, strings.Join(export.ValidFormats(), ", "))
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

			entries, err := a.longTerm.List(ctx, userID)
			if err != nil {
				return fmt.Errorf("list memory: %w", err)
			}
			prof, err := a.profiles.Profile(ctx, userID)
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			out, err := exporter.Export(export.ExportData{
				UserID:     userID,
				Profile:    prof,
				Entries:    entries,
				ExportedAt: time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output == "" {
				_, err = os.Stdout.WriteString(out)
				return err
			}
			if err := os.WriteFile(output, []byte(out), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			stderrf("Exported %d turns and %d facts to %s\n", len(entries), len(prof.Facts), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: "+strings.Join(export.ValidFormats(), ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	return cmd
}
