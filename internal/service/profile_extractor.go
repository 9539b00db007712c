package service

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
)

// Notes patterns are applied to lowercased text.
var (
	notesECOGPattern       = regexp.MustCompile(`ecog\s*([0-4])`)
	notesPriorLinesPattern = regexp.MustCompile(`(\d+)\s+prior\s+lines`)
)

const (
	notesAutoimmunePhrase = "autoimmune"
	notesMeasurablePhrase = "measurable disease"
	summaryMaxMeds        = 4
)

// ProfileExtractor turns a clinical bundle and free-text notes into a
// PatientProfile. Extraction is total: malformed sub-fields degrade to
// absent values and never produce an error.
type ProfileExtractor struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewProfileExtractor creates a new profile extractor using the wall clock
func NewProfileExtractor(logger *logrus.Logger) *ProfileExtractor {
	return &ProfileExtractor{
		logger: logger,
		now:    time.Now,
	}
}

// WithClock returns a copy of the extractor evaluating ages against now.
func (e *ProfileExtractor) WithClock(now func() time.Time) *ProfileExtractor {
	clone := *e
	clone.now = now
	return &clone
}

// BuildPatientProfile merges the structured and notes-derived views.
func (e *ProfileExtractor) BuildPatientProfile(bundle *domain.ClinicalBundle, notes string) domain.PatientProfile {
	profile := e.ExtractStructured(bundle)
	findings := e.ExtractFromNotes(notes)

	profile.Biomarkers = mergeTokens(profile.Biomarkers, findings.Biomarkers)
	if profile.ECOG == nil && findings.ECOG != nil {
		profile.ECOG = findings.ECOG
	}
	if findings.AutoimmuneHistory != nil {
		profile.AutoimmuneHistory = findings.AutoimmuneHistory
	}
	if findings.PriorLines != nil {
		profile.PriorLines = findings.PriorLines
	}
	if findings.MeasurableDisease != nil {
		profile.MeasurableDisease = findings.MeasurableDisease
	}

	if len(profile.Conditions) > 0 {
		profile.DiagnosisHint = domain.StringPtr(profile.Conditions[0])
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"conditions": len(profile.Conditions),
			"biomarkers": len(profile.Biomarkers),
			"has_age":    profile.Age != nil,
			"has_ecog":   profile.ECOG != nil,
		}).Debug("Built patient profile")
	}

	return profile
}

// ExtractStructured reads demographics, conditions, medications,
// observations and social history from the bundle.
func (e *ProfileExtractor) ExtractStructured(bundle *domain.ClinicalBundle) domain.PatientProfile {
	profile := domain.PatientProfile{
		Conditions:  []string{},
		Medications: []string{},
		Biomarkers:  []string{},
	}
	if bundle == nil {
		return profile
	}

	if p := bundle.Patient; p != nil {
		profile.Gender = domain.StringPtr(p.Gender)
		profile.Orientation = domain.StringPtr(p.SexualOrientation)
		if p.BirthDate != "" {
			profile.Age = CalcAge(p.BirthDate, e.now())
		}
		if len(p.Address) > 0 {
			profile.Location = domain.Location{
				State:   domain.StringPtr(p.Address[0].State),
				Country: domain.StringPtr(p.Address[0].Country),
			}
		}
	}

	for _, c := range bundle.Conditions {
		if c.Code == nil {
			continue
		}
		profile.Conditions = append(profile.Conditions, strings.ToLower(c.Code.Text))
	}
	for _, m := range bundle.Medications {
		if m.MedicationCodeableConcept == nil {
			continue
		}
		profile.Medications = append(profile.Medications, strings.ToLower(m.MedicationCodeableConcept.Text))
	}

	found := map[string]struct{}{}
	for _, o := range bundle.Observations {
		if strings.Contains(strings.ToLower(o.CodeText()), "ecog") {
			if ecog, ok := observationECOG(o); ok {
				profile.ECOG = domain.IntPtr(ecog)
			} else if e.logger != nil {
				e.logger.Debug("Ignoring malformed ECOG observation value")
			}
		}
		if text, ok := o.ValueString.String(); ok {
			scanBiomarkers(strings.ToLower(text), found)
		}
	}
	profile.Biomarkers = sortedTokens(found)

	if sh := bundle.SocialHistory; sh != nil {
		if s, ok := sh.Smoking.String(); ok {
			profile.Social.Smoking = domain.StringPtr(s)
		}
		if s, ok := sh.Alcohol.String(); ok {
			profile.Social.Alcohol = domain.StringPtr(s)
		}
		if b, ok := sh.CaregiverSupport.Bool(); ok {
			profile.Social.CaregiverSupport = domain.BoolPtr(b)
		}
		if f, ok := sh.TravelTimeMinutes.Float(); ok {
			profile.Social.TravelTimeMinutes = &f
		}
	}

	return profile
}

// ExtractFromNotes scans lowercased free text for ECOG, biomarkers, prior
// treatment lines, autoimmune history and measurable disease.
func (e *ProfileExtractor) ExtractFromNotes(notes string) domain.NotesFindings {
	var findings domain.NotesFindings
	text := strings.ToLower(notes)
	if text == "" {
		return findings
	}

	if m := notesECOGPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			findings.ECOG = domain.IntPtr(n)
		}
	}

	found := map[string]struct{}{}
	scanBiomarkers(text, found)
	if len(found) > 0 {
		findings.Biomarkers = sortedTokens(found)
	}

	if strings.Contains(text, notesAutoimmunePhrase) {
		findings.AutoimmuneHistory = domain.BoolPtr(true)
	}
	if m := notesPriorLinesPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			findings.PriorLines = domain.IntPtr(n)
		}
	}
	if strings.Contains(text, notesMeasurablePhrase) {
		findings.MeasurableDisease = domain.BoolPtr(true)
	}

	return findings
}

// CalcAge returns completed years between birthDate and today, or nil when
// the date cannot be parsed.
func CalcAge(birthDate string, today time.Time) *int {
	birthDate = strings.TrimSpace(birthDate)
	if birthDate == "" {
		return nil
	}
	born, err := dateparse.ParseAny(birthDate)
	if err != nil {
		return nil
	}
	years := today.Year() - born.Year()
	if today.Month() < born.Month() || (today.Month() == born.Month() && today.Day() < born.Day()) {
		years--
	}
	return &years
}

// SummarizeProfile renders the profile as one deterministic line. The same
// text is embedded for retrieval, so field order is fixed.
func SummarizeProfile(p *domain.PatientProfile) string {
	var bits []string
	if p.DiagnosisHint != nil && *p.DiagnosisHint != "" {
		bits = append(bits, "Diagnosis: "+*p.DiagnosisHint)
	}
	if p.Age != nil {
		bits = append(bits, "Age "+strconv.Itoa(*p.Age))
	}
	if p.Gender != nil && *p.Gender != "" {
		bits = append(bits, "Gender "+*p.Gender)
	}
	if p.Orientation != nil && *p.Orientation != "" {
		bits = append(bits, "Orientation "+*p.Orientation)
	}
	if p.ECOG != nil {
		bits = append(bits, "ECOG "+strconv.Itoa(*p.ECOG))
	}
	if len(p.Biomarkers) > 0 {
		bits = append(bits, "Biomarkers "+strings.Join(p.Biomarkers, ", "))
	}
	if len(p.Medications) > 0 {
		meds := p.Medications
		if len(meds) > summaryMaxMeds {
			meds = meds[:summaryMaxMeds]
		}
		bits = append(bits, "Meds "+strings.Join(meds, ", "))
	}
	var loc []string
	if p.Location.State != nil && *p.Location.State != "" {
		loc = append(loc, *p.Location.State)
	}
	if p.Location.Country != nil && *p.Location.Country != "" {
		loc = append(loc, *p.Location.Country)
	}
	if len(loc) > 0 {
		bits = append(bits, "Location "+strings.Join(loc, ", "))
	}
	if p.Social.CaregiverSupport != nil {
		if *p.Social.CaregiverSupport {
			bits = append(bits, "Caregiver yes")
		} else {
			bits = append(bits, "Caregiver no")
		}
	}
	return strings.Join(bits, "; ")
}

// observationECOG prefers the quantity value and falls back to the string
// value when the quantity is absent.
func observationECOG(o domain.ObservationResource) (int, bool) {
	if o.ValueQuantity != nil && !o.ValueQuantity.Value.IsNull() {
		return o.ValueQuantity.Value.Int()
	}
	return o.ValueString.Int()
}

func scanBiomarkers(lowered string, found map[string]struct{}) {
	for _, token := range domain.BiomarkerVocabulary {
		if strings.Contains(lowered, strings.ToLower(token)) {
			found[token] = struct{}{}
		}
	}
}

func sortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func mergeTokens(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		set[t] = struct{}{}
	}
	return sortedTokens(set)
}
