package service

import (
	"fmt"
	"strings"
)

// MatchSystemPrompt instructs the rationale model.
const MatchSystemPrompt = `You are a clinical trial matching copilot for coordinators.
Return compact JSON with keys:
- nct_id
- rationale: 1-2 sentences linked to inclusion/exclusion
- clarify: array of missing/uncertain criteria needed to confirm eligibility
Do not include PHI.`

// BuildMatchPrompt renders the per-trial user prompt.
func BuildMatchPrompt(patientSummary, trialTitle, eligibility, nctID string) (string, error) {
	if strings.TrimSpace(nctID) == "" {
		return "", fmt.Errorf("building match prompt: empty trial id")
	}

	var b strings.Builder
	b.WriteString("Patient summary:\n")
	b.WriteString(patientSummary)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Trial %s: %s\n\n", nctID, trialTitle)
	b.WriteString("Eligibility:\n")
	b.WriteString(eligibility)
	b.WriteString("\n\n")
	b.WriteString("Task:\n")
	b.WriteString("Assess fit. Give a short rationale tied to criteria and list items to clarify.\n")
	b.WriteString("Return JSON with nct_id, rationale, clarify.")
	return b.String(), nil
}
