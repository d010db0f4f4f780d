// Package cli defines the Cobra command tree for the recall CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global flags shared by every command.
var (
	configPath string
	dbPath     string
	logLevel   string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Hybrid conversational memory for LLM chat",
	Long: `Recall keeps long conversations inside a fixed context budget.

Every turn is assembled from four layers: what is known about the user,
relevant turns retrieved from earlier conversations, a hierarchical summary
of older turns in this session, and a verbatim window of the latest ones.

Run 'recall init' to write a default config, then 'recall chat --user you'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/recall/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	rootCmd.AddCommand(
		newInitCmd(),
		newChatCmd(),
		newAskCmd(),
		newEraseCmd(),
		newProfileCmd(),
		newExportCmd(),
		newImportCmd(),
		newDiagCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recall %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
