package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/api"
	"github.com/trial-matcher-server/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and report pages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			server := api.NewServer(a.Config, a.Matcher, a.Logger,
				api.WithFeedbackStore(a.Feedback),
				api.WithTrialCounter(a.Trials),
				api.WithMetrics(a.Metrics),
			)
			return server.Start(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (default from config, 8080)")
	serveCmd.Flags().String("examples-dir", "", "directory holding patients/<id>.json and notes/<id>.txt")
	mustBind("server.port", serveCmd.Flags().Lookup("port"))
	mustBind("server.examples_dir", serveCmd.Flags().Lookup("examples-dir"))
}
