package domain

// Biomarker vocabulary recognised by the extractor. Tokens are canonical
// uppercase identifiers; matching against clinical text is case-insensitive.
var BiomarkerVocabulary = []string{
	"PIK3CA", "BRCA", "EGFR", "ALK", "BRAF", "FLT3", "ESR1", "MSI-H", "HER2", "PD-L1",
}

// PatientProfile is the canonical, derived view of a patient used for
// retrieval and scoring. It is built fresh per request and never mutated
// after construction.
type PatientProfile struct {
	Gender            *string       `json:"gender"`
	Age               *int          `json:"age"`
	Orientation       *string       `json:"orientation"`
	Conditions        []string      `json:"conditions"`
	Medications       []string      `json:"meds"`
	ECOG              *int          `json:"ecog"`
	Biomarkers        []string      `json:"biomarkers"`
	Location          Location      `json:"location"`
	Social            SocialProfile `json:"social"`
	DiagnosisHint     *string       `json:"diagnosis_hint"`
	AutoimmuneHistory *bool         `json:"autoimmune_history,omitempty"`
	PriorLines        *int          `json:"prior_lines,omitempty"`
	MeasurableDisease *bool         `json:"measurable_disease,omitempty"`
}

// Location is where the patient lives; either part may be missing.
type Location struct {
	State   *string `json:"state,omitempty"`
	Country *string `json:"country,omitempty"`
}

// SocialProfile holds social determinants relevant to trial logistics.
type SocialProfile struct {
	Smoking           *string  `json:"smoking"`
	Alcohol           *string  `json:"alcohol"`
	CaregiverSupport  *bool    `json:"caregiverSupport"`
	TravelTimeMinutes *float64 `json:"travelTimeMinutes"`
}

// NotesFindings are the fields recovered from free-text notes.
type NotesFindings struct {
	ECOG              *int
	Biomarkers        []string
	AutoimmuneHistory *bool
	PriorLines        *int
	MeasurableDisease *bool
}

// HasBiomarker reports whether the profile carries the given canonical token.
func (p *PatientProfile) HasBiomarker(token string) bool {
	for _, b := range p.Biomarkers {
		if b == token {
			return true
		}
	}
	return false
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
