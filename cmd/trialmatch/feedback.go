package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/feedback"
)

var feedbackFile string

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Export or import coordinator feedback",
}

var feedbackExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all feedback as JSON to --file or stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if a.Feedback == nil {
				return errors.New("feedback store is disabled")
			}
			if feedbackFile == "" {
				return feedback.ExportJSON(ctx, a.Feedback, cmd.OutOrStdout())
			}
			f, err := os.Create(feedbackFile)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := feedback.ExportJSON(ctx, a.Feedback, f); err != nil {
				return err
			}
			a.Logger.WithField("file", feedbackFile).Info("Feedback exported")
			return nil
		})
	},
}

var feedbackImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load feedback from a JSON export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if feedbackFile == "" {
			return errors.New("--file is required")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if a.Feedback == nil {
				return errors.New("feedback store is disabled")
			}
			f, err := os.Open(feedbackFile)
			if err != nil {
				return err
			}
			defer f.Close()

			imported, skipped, err := feedback.ImportJSON(ctx, a.Feedback, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records, skipped %d\n", imported, skipped)
			return nil
		})
	},
}

func init() {
	feedbackCmd.PersistentFlags().StringVarP(&feedbackFile, "file", "f", "", "JSON file to read or write")
	feedbackCmd.AddCommand(feedbackExportCmd, feedbackImportCmd)
}
