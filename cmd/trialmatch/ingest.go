package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/pkg/external"
)

var ingestFlags struct {
	condition string
	term      string
	state     string
	country   string
	maxPages  int
	force     bool
	ifEmpty   bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load recruiting studies from ClinicalTrials.gov into the trial store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if a.Config.Matching.UseMemoryStore {
				a.Logger.Warn("Ingesting into the in-memory store; trials are lost when the command exits")
			}

			var (
				loaded int
				err    error
			)
			if ingestFlags.ifEmpty {
				loaded, err = a.Ingester.RefreshIfNeeded(ctx, domain.RefreshOptions{
					Force:     ingestFlags.force,
					Condition: ingestFlags.condition,
					Term:      ingestFlags.term,
					State:     ingestFlags.state,
					Country:   ingestFlags.country,
				})
			} else {
				loaded, err = a.Ingester.Load(ctx, external.StudyQuery{
					Condition: firstNonEmpty(ingestFlags.condition, a.Config.CTGov.DefaultCondition),
					Term:      ingestFlags.term,
					State:     ingestFlags.state,
					Country:   firstNonEmpty(ingestFlags.country, a.Config.CTGov.DefaultCountry),
					MaxPages:  ingestFlags.maxPages,
				})
			}
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}

			total, err := a.Trials.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d trials (%d in store)\n", loaded, total)
			return nil
		})
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.condition, "cond", "", "condition to search (default from ctgov.default_condition)")
	f.StringVar(&ingestFlags.term, "term", "", "free-text search term")
	f.StringVar(&ingestFlags.state, "state", "", "US state or region filter")
	f.StringVar(&ingestFlags.country, "country", "", "country filter (default from ctgov.default_country)")
	f.IntVar(&ingestFlags.maxPages, "max-pages", 0, "maximum result pages to fetch (default from ctgov.max_pages)")
	f.BoolVar(&ingestFlags.ifEmpty, "if-empty", false, "only load when the store holds no trials")
	f.BoolVar(&ingestFlags.force, "force", false, "with --if-empty, load even when trials exist")
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
