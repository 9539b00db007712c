package service

import (
	"math"
	"sort"
	"strings"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/pkg/fuzzy"
)

// Category caps and fixed credits.
const (
	diagnosisWeight  = 0.25
	ecogGoodCredit   = 0.15
	ecogFairCredit   = 0.08
	ecogSilentCredit = 0.05
	biomarkerPerHit  = 0.07
	biomarkerCap     = 0.2
	adultAgeCredit   = 0.1
	adultAge         = 18
	genderMentioned  = 0.05
	genderSoftCredit = 0.03
	textFitWeight    = 0.2
	maxTotalScore    = 1.0
)

var genderKeywords = []string{"female", "women", "male", "men"}

// Scorer computes the transparent heuristic eligibility score. It holds no
// state; ComputeScore is a pure function of its inputs.
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ComputeScore scores a profile against one trial's eligibility text.
// Contributions are summed unrounded; each breakdown entry and the capped
// total are rounded to three decimals.
func (s *Scorer) ComputeScore(profile *domain.PatientProfile, eligibility string) domain.ScoreResult {
	text := strings.ToLower(eligibility)
	breakdown := domain.ScoreBreakdown{}
	var uncertain []string
	total := 0.0

	add := func(category string, v float64) {
		breakdown[category] = domain.Round3(v)
		total += v
	}

	diag := ""
	if profile.DiagnosisHint != nil {
		diag = strings.TrimSpace(*profile.DiagnosisHint)
	}
	if diag != "" {
		add(domain.CategoryDiagnosis, fuzzy.PartialRatio(strings.ToLower(diag), text)*diagnosisWeight)
	} else {
		uncertain = append(uncertain, domain.UncertainDiagnosis)
	}

	if profile.ECOG != nil {
		add(domain.CategoryECOG, ecogCredit(*profile.ECOG, strings.Contains(text, "ecog")))
	} else {
		uncertain = append(uncertain, domain.UncertainECOG)
	}

	// No biomarkers is a known zero, not an unknown.
	hits := 0
	for _, b := range profile.Biomarkers {
		if strings.Contains(text, strings.ToLower(b)) {
			hits++
		}
	}
	add(domain.CategoryBiomarkers, math.Min(biomarkerCap, biomarkerPerHit*float64(hits)))

	if profile.Age != nil {
		credit := 0.0
		if *profile.Age >= adultAge {
			credit = adultAgeCredit
		}
		add(domain.CategoryAge, credit)
	} else {
		uncertain = append(uncertain, domain.UncertainAge)
	}

	if profile.Gender != nil && *profile.Gender != "" {
		credit := genderSoftCredit
		for _, kw := range genderKeywords {
			if strings.Contains(text, kw) {
				credit = genderMentioned
				break
			}
		}
		add(domain.CategoryGender, credit)
	}

	summary := strings.ToLower(SummarizeProfile(profile))
	add(domain.CategoryTextFit, textFitWeight*fuzzy.TokenSetRatio(summary, text))

	return domain.ScoreResult{
		Score:     domain.Round3(math.Min(maxTotalScore, total)),
		Breakdown: breakdown,
		Uncertain: uniqueSorted(uncertain),
	}
}

func ecogCredit(ecog int, mentioned bool) float64 {
	if !mentioned {
		return ecogSilentCredit
	}
	switch {
	case ecog == 0 || ecog == 1:
		return ecogGoodCredit
	case ecog == 2:
		return ecogFairCredit
	default:
		return 0
	}
}

func uniqueSorted(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
