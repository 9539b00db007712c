package domain

import (
	"encoding/json"
	"math"
)

// Score categories. Each contributes independently and is individually capped.
const (
	CategoryDiagnosis  = "diagnosis"
	CategoryECOG       = "ecog"
	CategoryBiomarkers = "biomarkers"
	CategoryAge        = "age"
	CategoryGender     = "gender"
	CategoryTextFit    = "text_fit"
)

// Uncertain criteria labels reported when the profile lacks the data to judge.
const (
	UncertainDiagnosis = "diagnosis"
	UncertainECOG      = "ECOG"
	UncertainAge       = "age"
)

// ScoreBreakdown maps a category to its rounded contribution. Biomarkers and
// text fit are always present; diagnosis, ECOG, age and gender are missing
// when the patient value is unknown.
type ScoreBreakdown map[string]float64

// ScoreResult is the outcome of scoring one profile against one eligibility text.
type ScoreResult struct {
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`
	Uncertain []string       `json:"uncertain_criteria"`
}

// MatchRequest is the input to a match run.
type MatchRequest struct {
	Bundle      *ClinicalBundle `json:"-"`
	PatientFHIR json.RawMessage `json:"patient_fhir"`
	Notes       string          `json:"notes,omitempty"`
	TopK        int             `json:"top_k"`
	CondHint    string          `json:"cond_hint,omitempty"`
	Country     string          `json:"country,omitempty"`
	// SortByScore re-orders results by heuristic score instead of retrieval order.
	SortByScore bool `json:"sort_by_score,omitempty"`
}

// MatchResult is one candidate trial returned to the caller.
type MatchResult struct {
	NCTID            string         `json:"nct_id"`
	Title            string         `json:"title"`
	Score            float64        `json:"score"`
	ScoreBreakdown   ScoreBreakdown `json:"score_breakdown"`
	Uncertain        []string       `json:"uncertain_criteria"`
	VectorSimilarity float64        `json:"vector_similarity"`
	Rationale        *string        `json:"llm_explanation,omitempty"`
}

// MatchResponse wraps an ordered match list.
type MatchResponse struct {
	Matches []MatchResult `json:"matches"`
}

// PatientReport bundles everything shown on a coordinator report page.
type PatientReport struct {
	PatientID      string        `json:"patient_id,omitempty"`
	PatientSummary string        `json:"patient_summary"`
	NotesPreview   string        `json:"notes_preview"`
	Matches        []MatchResult `json:"matches"`
}

// RationaleStatus describes what happened when a rationale was requested.
type RationaleStatus int

const (
	// RationaleDisabled means no generator is configured.
	RationaleDisabled RationaleStatus = iota
	// RationaleOK means text was produced.
	RationaleOK
	// RationaleSoftFailure means the generator was unreachable, timed out,
	// or answered with nothing usable. The trial is returned without text.
	RationaleSoftFailure
	// RationaleHardFailure is a fault in the generator setup. It aborts the
	// request.
	RationaleHardFailure
)

// String returns the status name used in logs and metrics labels.
func (s RationaleStatus) String() string {
	switch s {
	case RationaleDisabled:
		return "disabled"
	case RationaleOK:
		return "ok"
	case RationaleSoftFailure:
		return "soft_failure"
	case RationaleHardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// RationaleOutcome is the explicit result of one rationale attempt.
type RationaleOutcome struct {
	Status RationaleStatus
	Text   string
	Err    error
}

// Round3 rounds to three decimals, half away from zero.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
