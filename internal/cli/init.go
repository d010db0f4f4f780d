package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvra/recall/internal/config"
	"github.com/memvra/recall/internal/db"
)

func newInitCmd() *cobra.Command {
	var (
		provider string
		embedder string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the database",
		Long: `Write the documented defaults to the config file (~/.config/recall/config.toml
or --config) and create the SQLite database with its schema.

Examples:
  recall init
  recall init --provider openai --embedder openai
  recall init --config ./recall.toml --db ./recall.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				p, err := config.GlobalPath()
				if err != nil {
					return err
				}
				path = p
			}

			_, statErr := os.Stat(path)
			exists := statErr == nil

			cfg := config.Default()
			if exists && !force {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
				fmt.Printf("Config already exists at %s (use --force to overwrite)\n", path)
			} else {
				if provider != "" {
					cfg.Provider.Name = provider
				}
				if embedder != "" {
					cfg.Provider.Embedder = embedder
				}
				if dbPath != "" {
					cfg.Storage.DBPath = dbPath
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				if err := config.Save(path, cfg); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Printf("Config written to %s\n", path)
			}

			if dbPath != "" {
				cfg.Storage.DBPath = dbPath
			}
			dbFile, err := cfg.DBPath()
			if err != nil {
				return err
			}
			database, err := db.Open(dbFile)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()

			fmt.Printf("Database ready at %s", dbFile)
			if !database.VectorSupport() {
				fmt.Print(" (sqlite-vec unavailable, using full-scan similarity)")
			}
			fmt.Println()
			fmt.Println(`Tip: set ANTHROPIC_API_KEY (or the key of your provider) and run "recall chat --user <id>".`)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "generation provider: claude, openai, gemini, ollama")
	cmd.Flags().StringVar(&embedder, "embedder", "", "embedding provider: openai, gemini, ollama")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config with the defaults")

	return cmd
}
