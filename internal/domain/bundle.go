// Package domain contains the core entities of the clinical trial matcher:
// the FHIR-derived clinical bundle accepted at the boundary, the canonical
// patient profile, trial records, and the match results returned to callers.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ClinicalBundle is the structured clinical input for a single patient.
// The shape follows a reduced FHIR bundle; every field is optional and
// partially populated bundles are normal.
type ClinicalBundle struct {
	Patient       *PatientResource      `json:"patient,omitempty"`
	Conditions    []ConditionResource   `json:"conditions,omitempty"`
	Medications   []MedicationResource  `json:"medications,omitempty"`
	Observations  []ObservationResource `json:"observations,omitempty"`
	SocialHistory *SocialHistory        `json:"socialHistory,omitempty"`
}

// PatientResource carries demographics.
type PatientResource struct {
	Gender            string    `json:"gender,omitempty"`
	BirthDate         string    `json:"birthDate,omitempty"`
	SexualOrientation string    `json:"sexualOrientation,omitempty"`
	Address           []Address `json:"address,omitempty"`
}

// Address is a FHIR address reduced to the fields used for trial location.
type Address struct {
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// CodeableConcept is a FHIR CodeableConcept reduced to its display text.
type CodeableConcept struct {
	Text string `json:"text,omitempty"`
}

// ConditionResource is a diagnosis entry.
type ConditionResource struct {
	Code *CodeableConcept `json:"code,omitempty"`
}

// MedicationResource is a medication statement entry.
type MedicationResource struct {
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`
}

// Quantity is a FHIR quantity. Value is loose because upstream systems send
// numbers, numeric strings, or garbage.
type Quantity struct {
	Value LooseValue `json:"value"`
	Unit  string     `json:"unit,omitempty"`
}

// ObservationResource is a lab result, performance status, or marker finding.
type ObservationResource struct {
	Code          *CodeableConcept `json:"code,omitempty"`
	ValueQuantity *Quantity        `json:"valueQuantity,omitempty"`
	ValueString   LooseValue       `json:"valueString"`
}

// SocialHistory holds free-form social determinants.
type SocialHistory struct {
	Smoking           LooseValue `json:"smoking"`
	Alcohol           LooseValue `json:"alcohol"`
	CaregiverSupport  LooseValue `json:"caregiverSupport"`
	TravelTimeMinutes LooseValue `json:"travelTimeMinutes"`
}

// CodeText returns the code text of an observation, or "".
func (o ObservationResource) CodeText() string {
	if o.Code == nil {
		return ""
	}
	return o.Code.Text
}

// DecodeClinicalBundle decodes a bundle at the system boundary. Empty input
// and JSON null produce an empty bundle. Input that is not a JSON object is
// rejected; inside the object a field of the wrong type is dropped and the
// rest of the bundle is kept.
func DecodeClinicalBundle(data []byte) (*ClinicalBundle, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &ClinicalBundle{}, nil
	}
	if trimmed[0] != '{' {
		return nil, NewValidationError("patient_fhir", "clinical bundle must be a JSON object", nil)
	}

	var bundle ClinicalBundle
	if err := json.Unmarshal(trimmed, &bundle); err != nil {
		return nil, NewValidationError("patient_fhir", fmt.Sprintf("malformed clinical bundle: %v", err), nil)
	}
	return &bundle, nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (b *ClinicalBundle) UnmarshalJSON(data []byte) error {
	*b = ClinicalBundle{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	b.Patient = objectField[PatientResource](fields, "patient")
	b.Conditions = listField[ConditionResource](fields, "conditions")
	b.Medications = listField[MedicationResource](fields, "medications")
	b.Observations = listField[ObservationResource](fields, "observations")
	b.SocialHistory = objectField[SocialHistory](fields, "socialHistory")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (p *PatientResource) UnmarshalJSON(data []byte) error {
	*p = PatientResource{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	p.Gender = stringField(fields, "gender")
	p.BirthDate = stringField(fields, "birthDate")
	p.SexualOrientation = stringField(fields, "sexualOrientation")
	p.Address = listField[Address](fields, "address")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (a *Address) UnmarshalJSON(data []byte) error {
	*a = Address{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	a.State = stringField(fields, "state")
	a.Country = stringField(fields, "country")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. A non-string text is left empty.
func (c *CodeableConcept) UnmarshalJSON(data []byte) error {
	*c = CodeableConcept{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	c.Text = stringField(fields, "text")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (c *ConditionResource) UnmarshalJSON(data []byte) error {
	*c = ConditionResource{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	c.Code = objectField[CodeableConcept](fields, "code")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (m *MedicationResource) UnmarshalJSON(data []byte) error {
	*m = MedicationResource{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	m.MedicationCodeableConcept = objectField[CodeableConcept](fields, "medicationCodeableConcept")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	*q = Quantity{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	q.Value = looseField(fields, "value")
	q.Unit = stringField(fields, "unit")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Mistyped fields are left empty.
func (o *ObservationResource) UnmarshalJSON(data []byte) error {
	*o = ObservationResource{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	o.Code = objectField[CodeableConcept](fields, "code")
	o.ValueQuantity = objectField[Quantity](fields, "valueQuantity")
	o.ValueString = looseField(fields, "valueString")
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. A non-object history is empty.
func (h *SocialHistory) UnmarshalJSON(data []byte) error {
	*h = SocialHistory{}
	fields, ok := objectFields(data)
	if !ok {
		return nil
	}
	h.Smoking = looseField(fields, "smoking")
	h.Alcohol = looseField(fields, "alcohol")
	h.CaregiverSupport = looseField(fields, "caregiverSupport")
	h.TravelTimeMinutes = looseField(fields, "travelTimeMinutes")
	return nil
}

// objectFields splits a JSON object into its members. It reports false for
// anything that is not an object, including null.
func objectFields(data []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func looseField(fields map[string]json.RawMessage, key string) LooseValue {
	return LooseValue{raw: fields[key]}
}

// objectField decodes an object member, or returns nil when it is missing
// or not an object.
func objectField[T any](fields map[string]json.RawMessage, key string) *T {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if _, isObject := objectFields(raw); !isObject {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil
	}
	return v
}

// listField decodes an array of objects element by element. Elements that
// are not objects are skipped; a member that is not an array yields nil.
func listField[T any](fields map[string]json.RawMessage, key string) []T {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, isObject := objectFields(item); !isObject {
			continue
		}
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// LooseValue holds a JSON scalar of unknown type. It never fails to decode.
type LooseValue struct {
	raw json.RawMessage
}

// NewLooseValue builds a LooseValue from any JSON-marshalable value.
func NewLooseValue(v interface{}) LooseValue {
	raw, err := json.Marshal(v)
	if err != nil {
		return LooseValue{}
	}
	return LooseValue{raw: raw}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *LooseValue) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v LooseValue) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// IsNull reports whether the value is absent or JSON null.
func (v LooseValue) IsNull() bool {
	trimmed := bytes.TrimSpace(v.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// String returns the value as text. Strings are returned verbatim, numbers
// and booleans in their JSON form. Objects and arrays are not text.
func (v LooseValue) String() (string, bool) {
	if v.IsNull() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s, true
	}
	switch v.raw[0] {
	case '{', '[':
		return "", false
	}
	return string(bytes.TrimSpace(v.raw)), true
}

// Int coerces the value to a whole number. Numeric strings are trimmed and
// parsed; fractional numbers are rejected.
func (v LooseValue) Int() (int, bool) {
	if v.IsNull() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int(f), true
	}
	s, ok := v.String()
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float coerces the value to a float.
func (v LooseValue) Float() (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		return f, true
	}
	s, ok := v.String()
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool coerces the value to a boolean. Accepts JSON booleans and the usual
// textual spellings (true/false, yes/no, 1/0).
func (v LooseValue) Bool() (bool, bool) {
	if v.IsNull() {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(v.raw, &b); err == nil {
		return b, true
	}
	s, ok := v.String()
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	}
	return false, false
}
