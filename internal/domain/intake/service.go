// Package intake runs the first-visit flow: structure the dictation, find
// or create the patient, and record the visit.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/visit"
	"github.com/Ni-011/voiceMD-sub000/internal/extraction"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/db"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

// ErrNoExtraction is returned when the model produced nothing to store.
var ErrNoExtraction = extraction.ErrNoResult

type Patients interface {
	FindByNameAndContact(ctx context.Context, name, phone, email, doctorID string) (*patient.Patient, error)
	Create(ctx context.Context, p *patient.Patient) error
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Visits interface {
	Create(ctx context.Context, v *visit.Visit, source string) error
}

type Extractor interface {
	ExtractIntake(ctx context.Context, text string) (*extraction.IntakeRecord, error)
}

// Submission is an intake form plus its dictated history.
type Submission struct {
	Text     string
	DoctorID string
	Name     string
	Age      *int
	Gender   string
	Phone    string
	Email    string
	Address  string
}

// Result references what the intake wrote. NewPatient is nil when the
// submission matched an existing patient.
type Result struct {
	NewPatient *patient.Patient `json:"new_patient,omitempty"`
	NewVisit   *visit.Visit     `json:"new_visit"`
}

// Intake outcomes, used as a metrics label.
const (
	outcomeCreated  = "created"
	outcomeMatched  = "matched"
	outcomeRejected = "rejected"
	outcomeNoResult = "no_result"
	outcomeFailed   = "failed"
)

type Service struct {
	patients  Patients
	visits    Visits
	extractor Extractor
	tx        db.Transactor
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService wires the intake flow. tx decides whether the patient and
// visit writes share a transaction; db.NoTx{} keeps them independent.
func NewService(patients Patients, visits Visits, extractor Extractor, tx db.Transactor, m *metrics.Collector, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		patients:  patients,
		visits:    visits,
		extractor: extractor,
		tx:        tx,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	sub = sub.trimmed()
	if err := sub.validate(); err != nil {
		s.metrics.IntakeOutcome(outcomeRejected)
		return nil, err
	}

	rec, err := s.extractor.ExtractIntake(ctx, sub.Text)
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", sub.DoctorID).Msg("extraction failed")
		s.metrics.IntakeOutcome(outcomeNoResult)
		return nil, extraction.Classify(err)
	}
	if rec == nil {
		s.metrics.IntakeOutcome(outcomeNoResult)
		return nil, ErrNoExtraction
	}

	var res *Result
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.store(ctx, sub, rec)
		return err
	})
	if err != nil {
		s.metrics.IntakeOutcome(outcomeFailed)
		return nil, err
	}

	if res.NewPatient != nil {
		s.metrics.IntakeOutcome(outcomeCreated)
	} else {
		s.metrics.IntakeOutcome(outcomeMatched)
	}
	return res, nil
}

// store runs dedup, the patient write and the visit write in that order.
func (s *Service) store(ctx context.Context, sub Submission, rec *extraction.IntakeRecord) (*Result, error) {
	now := s.now()

	existing, err := s.patients.FindByNameAndContact(ctx, sub.Name, sub.Phone, sub.Email, sub.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("intake dedup: %w", err)
	}

	res := &Result{}
	var patientID uuid.UUID
	if existing != nil {
		patientID = existing.ID
		if err := s.patients.TouchLastVisit(ctx, existing.ID, now); err != nil {
			return nil, fmt.Errorf("intake touch patient: %w", err)
		}
		s.logger.Info().
			Str("patient_id", existing.ID.String()).
			Str("doctor_id", sub.DoctorID).
			Msg("intake matched existing patient")
	} else {
		p := newPatient(sub, rec, now)
		if err := s.patients.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("intake create patient: %w", err)
		}
		s.metrics.PatientCreated()
		s.logger.Info().
			Str("patient_id", p.ID.String()).
			Str("doctor_id", sub.DoctorID).
			Msg("patient created")
		res.NewPatient = p
		patientID = p.ID
	}

	v := &visit.Visit{
		PatientID: patientID,
		Diagnosis: rec.Diagnosis,
		Prescriptions: clinical.Prescriptions{
			Medications: rec.Prescriptions,
			Precautions: rec.Precautions,
		},
		CreatedAt: now,
	}
	v.Prescriptions.Normalize()
	if err := s.visits.Create(ctx, v, visit.SourceIntake); err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	res.NewVisit = v
	return res, nil
}

func newPatient(sub Submission, rec *extraction.IntakeRecord, now time.Time) *patient.Patient {
	history := rec.MedicalHistory
	history.Normalize()
	status := rec.Status
	if status == "" {
		status = clinical.StatusActive
	}
	gender := sub.Gender
	if gender == "" {
		gender = patient.DefaultGender
	}
	return &patient.Patient{
		Name:           sub.Name,
		Age:            sub.Age,
		Gender:         gender,
		Phone:          patient.StringPtr(sub.Phone),
		Email:          patient.StringPtr(sub.Email),
		Address:        patient.StringPtr(sub.Address),
		MedicalHistory: history,
		DoctorID:       sub.DoctorID,
		LastVisit:      &now,
		Condition:      patient.StringPtr(strings.TrimSpace(rec.Condition)),
		Status:         status,
	}
}

func (sub Submission) trimmed() Submission {
	sub.Text = strings.TrimSpace(sub.Text)
	sub.DoctorID = strings.TrimSpace(sub.DoctorID)
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Gender = strings.TrimSpace(sub.Gender)
	sub.Phone = strings.TrimSpace(sub.Phone)
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Address = strings.TrimSpace(sub.Address)
	return sub
}

func (sub Submission) validate() error {
	var msgs []string
	if sub.Text == "" {
		msgs = append(msgs, "text is required")
	}
	if sub.DoctorID == "" {
		msgs = append(msgs, "doctorId is required")
	}
	if sub.Name == "" {
		msgs = append(msgs, "name is required")
	}
	if sub.Age != nil && (*sub.Age < 0 || *sub.Age > 150) {
		msgs = append(msgs, "age must be between 0 and 150")
	}
	if len(msgs) > 0 {
		return apierr.Invalid(msgs...)
	}
	return nil
}
