// Package clinical holds the value types shared by patients, visits and
// the extraction client: patient status, medical history and medications.
package clinical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Status string

const (
	StatusActive     Status = "Active"
	StatusInactive   Status = "Inactive"
	StatusDischarged Status = "Discharged"
)

var statuses = []Status{StatusActive, StatusInactive, StatusDischarged}

func (s Status) IsValid() bool {
	for _, v := range statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus accepts the three statuses in any letter case. Blank input
// yields StatusActive.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusActive, nil
	}
	for _, v := range statuses {
		if strings.EqualFold(s, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("status must be one of Active, Inactive, Discharged, got %q", s)
}

// MedicalHistory is stored as JSONB. The key spelling matches what the
// front end and the extraction prompt use.
type MedicalHistory struct {
	Disease      []string `json:"disease"`
	ActiveMed    []string `json:"active_med"`
	BP           string   `json:"BP"`
	Deficiencies []string `json:"deficiencies"`
}

// Normalize replaces nil lists with empty ones so JSON never carries null.
func (m *MedicalHistory) Normalize() {
	if m.Disease == nil {
		m.Disease = []string{}
	}
	if m.ActiveMed == nil {
		m.ActiveMed = []string{}
	}
	if m.Deficiencies == nil {
		m.Deficiencies = []string{}
	}
}

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type EmptyStomach string

const (
	EmptyStomachYes EmptyStomach = "yes"
	EmptyStomachNo  EmptyStomach = "no"
)

type DurationUnit string

const (
	Days   DurationUnit = "days"
	Weeks  DurationUnit = "weeks"
	Months DurationUnit = "months"
)

// Amount is a dosage or duration quantity. The model sometimes answers with
// a number and sometimes with a string such as "500mg"; both decode.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

type Medication struct {
	NameOfMedicine string       `json:"nameofmedicine"`
	Dosage         Amount       `json:"dosage"`
	Frequency      Frequency    `json:"frequency"`
	EmptyStomach   EmptyStomach `json:"emptyStomach"`
	Duration       Amount       `json:"duration"`
	DurationUnit   DurationUnit `json:"durationUnit"`
}

// Normalize lower-cases the enum fields and trims the name.
func (m *Medication) Normalize() {
	m.NameOfMedicine = strings.TrimSpace(m.NameOfMedicine)
	m.Frequency = Frequency(strings.ToLower(strings.TrimSpace(string(m.Frequency))))
	m.EmptyStomach = EmptyStomach(strings.ToLower(strings.TrimSpace(string(m.EmptyStomach))))
	m.DurationUnit = DurationUnit(strings.ToLower(strings.TrimSpace(string(m.DurationUnit))))
}

// Validate checks enum fields. Empty enum values are allowed since a
// dictation rarely states every attribute.
func (m Medication) Validate() error {
	if m.NameOfMedicine == "" {
		return fmt.Errorf("nameofmedicine is required")
	}
	switch m.Frequency {
	case "", Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("frequency must be daily, weekly or monthly, got %q", m.Frequency)
	}
	switch m.EmptyStomach {
	case "", EmptyStomachYes, EmptyStomachNo:
	default:
		return fmt.Errorf("emptyStomach must be yes or no, got %q", m.EmptyStomach)
	}
	switch m.DurationUnit {
	case "", Days, Weeks, Months:
	default:
		return fmt.Errorf("durationUnit must be days, weeks or months, got %q", m.DurationUnit)
	}
	return nil
}

// Prescriptions is the JSONB payload of a visit.
type Prescriptions struct {
	Medications       []Medication `json:"medications"`
	Precautions       []string     `json:"precautions"`
	ExtraInstructions string       `json:"extraInstructions,omitempty"`
}

// Normalize normalizes every medication and replaces nil lists.
func (p *Prescriptions) Normalize() {
	if p.Medications == nil {
		p.Medications = []Medication{}
	}
	if p.Precautions == nil {
		p.Precautions = []string{}
	}
	for i := range p.Medications {
		p.Medications[i].Normalize()
	}
	p.ExtraInstructions = strings.TrimSpace(p.ExtraInstructions)
}

// Validate returns one message per invalid medication.
func (p Prescriptions) Validate() []string {
	var msgs []string
	for i, m := range p.Medications {
		if err := m.Validate(); err != nil {
			msgs = append(msgs, fmt.Sprintf("medications[%d]: %v", i, err))
		}
	}
	return msgs
}

// CleanList trims entries and drops blanks, keeping order.
func CleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
