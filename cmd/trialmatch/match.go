package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/domain"
)

var matchFlags struct {
	patient     string
	notes       string
	topK        int
	condHint    string
	country     string
	sortByScore bool
	report      bool
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match one patient bundle against the trial store and print JSON",
	Example: `  trialmatch match --patient examples/patients/p001.json --notes examples/notes/p001.txt
  trialmatch match --lite --patient bundle.json --top-k 5 --sort-by-score`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		patient, err := os.ReadFile(matchFlags.patient)
		if err != nil {
			return fmt.Errorf("reading patient bundle: %w", err)
		}
		var notes string
		if matchFlags.notes != "" {
			data, err := os.ReadFile(matchFlags.notes)
			if err != nil {
				return fmt.Errorf("reading notes: %w", err)
			}
			notes = string(data)
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			var out any
			if matchFlags.report {
				bundle, err := domain.DecodeClinicalBundle(patient)
				if err != nil {
					return err
				}
				report, err := a.Matcher.BuildReport(ctx, bundle, notes)
				if err != nil {
					return err
				}
				out = report
			} else {
				topK := matchFlags.topK
				if topK == 0 {
					topK = a.Matcher.DefaultTopK()
				}
				results, err := a.Matcher.MatchForPatientBundle(ctx, &domain.MatchRequest{
					PatientFHIR: patient,
					Notes:       notes,
					TopK:        topK,
					CondHint:    matchFlags.condHint,
					Country:     firstNonEmpty(matchFlags.country, a.Config.CTGov.DefaultCountry),
					SortByScore: matchFlags.sortByScore,
				})
				if err != nil {
					return err
				}
				out = results
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}

func init() {
	f := matchCmd.Flags()
	f.StringVar(&matchFlags.patient, "patient", "", "path to the patient bundle JSON")
	f.StringVar(&matchFlags.notes, "notes", "", "path to free-text clinician notes")
	f.IntVar(&matchFlags.topK, "top-k", 0, "number of trials to return (default from matching.default_top_k)")
	f.StringVar(&matchFlags.condHint, "cond-hint", "", "condition used when the store must be refreshed")
	f.StringVar(&matchFlags.country, "country", "", "country used when the store must be refreshed")
	f.BoolVar(&matchFlags.sortByScore, "sort-by-score", false, "order results by heuristic score")
	f.BoolVar(&matchFlags.report, "report", false, "print the coordinator report instead of raw matches")
	_ = matchCmd.MarkFlagRequired("patient")
}
