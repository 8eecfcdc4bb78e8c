package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
)

// IntakeRecord is the structured result of a first-visit dictation.
type IntakeRecord struct {
	MedicalHistory clinical.MedicalHistory `json:"medicalHistory"`
	Diagnosis      []string                `json:"diagnosis"`
	Prescriptions  []clinical.Medication   `json:"prescriptions"`
	Precautions    []string                `json:"precautions"`
	Condition      string                  `json:"condition"`
	Status         clinical.Status         `json:"status"`
}

// VisitRecord is the structured result of a follow-up dictation.
type VisitRecord struct {
	Diagnosis     []string              `json:"diagnosis"`
	Prescriptions []clinical.Medication `json:"prescriptions"`
	Precautions   []string              `json:"precautions"`
}

// The wire types use pointers so a missing key can be told apart from an
// empty value. Unknown keys are ignored.
type intakeWire struct {
	MedicalHistory *clinical.MedicalHistory `json:"medicalHistory"`
	Diagnosis      *[]string                `json:"diagnosis"`
	Prescriptions  *[]clinical.Medication   `json:"prescriptions"`
	Precautions    *[]string                `json:"precautions"`
	Condition      *string                  `json:"condition"`
	Status         *string                  `json:"status"`
}

type visitWire struct {
	Diagnosis     *[]string              `json:"diagnosis"`
	Prescriptions *[]clinical.Medication `json:"prescriptions"`
	Precautions   *[]string              `json:"precautions"`
}

// ExtractIntake structures an intake dictation.
func (c *Client) ExtractIntake(ctx context.Context, text string) (*IntakeRecord, error) {
	var rec *IntakeRecord
	_, err := c.extract(ctx, text, IntakeTemplate, "intake", func(raw json.RawMessage) (err error) {
		rec, err = decodeIntake(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ExtractVisit structures a follow-up visit dictation.
func (c *Client) ExtractVisit(ctx context.Context, text string) (*VisitRecord, error) {
	var rec *VisitRecord
	_, err := c.extract(ctx, text, VisitTemplate, "visit", func(raw json.RawMessage) (err error) {
		rec, err = decodeVisit(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeIntake(raw json.RawMessage) (*IntakeRecord, error) {
	var w intakeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ParseError{Reply: string(raw), Err: err}
	}

	var missing []string
	if w.MedicalHistory == nil {
		missing = append(missing, "medicalHistory")
	}
	if w.Diagnosis == nil {
		missing = append(missing, "diagnosis")
	}
	if w.Prescriptions == nil {
		missing = append(missing, "prescriptions")
	}
	if w.Precautions == nil {
		missing = append(missing, "precautions")
	}
	if len(missing) > 0 {
		return nil, &ParseError{Reply: string(raw), Err: fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))}
	}

	rec := &IntakeRecord{
		MedicalHistory: *w.MedicalHistory,
		Diagnosis:      clinical.CleanList(*w.Diagnosis),
		Precautions:    clinical.CleanList(*w.Precautions),
	}
	rec.MedicalHistory.Normalize()
	if w.Condition != nil {
		rec.Condition = strings.TrimSpace(*w.Condition)
	}

	status := ""
	if w.Status != nil {
		status = *w.Status
	}
	st, err := clinical.ParseStatus(status)
	if err != nil {
		return nil, &ParseError{Reply: string(raw), Err: err}
	}
	rec.Status = st

	meds, err := normalizeMedications(*w.Prescriptions)
	if err != nil {
		return nil, &ParseError{Reply: string(raw), Err: err}
	}
	rec.Prescriptions = meds
	return rec, nil
}

func decodeVisit(raw json.RawMessage) (*VisitRecord, error) {
	var w visitWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ParseError{Reply: string(raw), Err: err}
	}

	var missing []string
	if w.Diagnosis == nil {
		missing = append(missing, "diagnosis")
	}
	if w.Prescriptions == nil {
		missing = append(missing, "prescriptions")
	}
	if w.Precautions == nil {
		missing = append(missing, "precautions")
	}
	if len(missing) > 0 {
		return nil, &ParseError{Reply: string(raw), Err: fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))}
	}

	meds, err := normalizeMedications(*w.Prescriptions)
	if err != nil {
		return nil, &ParseError{Reply: string(raw), Err: err}
	}
	return &VisitRecord{
		Diagnosis:     clinical.CleanList(*w.Diagnosis),
		Prescriptions: meds,
		Precautions:   clinical.CleanList(*w.Precautions),
	}, nil
}

func normalizeMedications(in []clinical.Medication) ([]clinical.Medication, error) {
	out := make([]clinical.Medication, 0, len(in))
	var errs []error
	for i, m := range in {
		m.Normalize()
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("prescriptions[%d]: %w", i, err))
			continue
		}
		out = append(out, m)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
