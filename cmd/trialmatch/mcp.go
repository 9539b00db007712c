package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server exposing match_trials and feedback tools",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			opts := []mcp.ServerOption{mcp.WithDefaultCountry(a.Config.CTGov.DefaultCountry)}
			if a.Feedback != nil {
				opts = append(opts, mcp.WithFeedbackStore(a.Feedback))
			}
			return mcp.NewServer(a.Config.MCP, a.Matcher, a.Logger, opts...).Start(ctx)
		})
	},
}

func init() {
	mcpCmd.Flags().String("transport", "", "MCP transport (stdio, http)")
	mcpCmd.Flags().Int("http-port", 0, "port for the http transport")
	mustBind("mcp.transport", mcpCmd.Flags().Lookup("transport"))
	mustBind("mcp.http_port", mcpCmd.Flags().Lookup("http-port"))
}
