package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/memvra/recall/internal/logger"
	mcpserver "github.com/memvra/recall/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory manager as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the tools
handle_turn, erase_user, session_diagnostics, get_profile, search_memory
and end_session. Logs go to stderr or the configured log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// stdout carries the protocol.
			if cfg.Log.Output == "stdout" {
				cfg.Log.Output = "stderr"
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcpserver.NewServer(a.orch, logger.For("mcp")).ServeStdio(version)
		},
	}
}
