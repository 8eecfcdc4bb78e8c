package visit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/extraction"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

// Patients is the slice of the patient store a visit needs.
type Patients interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Extractor interface {
	ExtractVisit(ctx context.Context, text string) (*extraction.VisitRecord, error)
}

// Visit sources, used as a metrics label.
const (
	SourceIntake     = "intake"
	SourceDictation  = "dictation"
	SourceStructured = "structured"
)

type Service struct {
	repo      Repository
	patients  Patients
	extractor Extractor
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, patients Patients, extractor Extractor, m *metrics.Collector, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		patients:  patients,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Record stores a follow-up visit for an existing patient and bumps the
// patient's last visit.
func (s *Service) Record(ctx context.Context, sub Submission) (*Visit, error) {
	text := strings.TrimSpace(sub.Text)
	if sub.PatientID == uuid.Nil {
		return nil, apierr.Invalid("patientId is required")
	}
	if text == "" && sub.Diagnosis == nil && sub.Medications == nil && sub.Precautions == nil {
		return nil, apierr.Invalid("text or structured diagnosis, prescriptions and precautions are required")
	}

	if _, err := s.patients.GetByID(ctx, sub.PatientID); err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}

	v := &Visit{PatientID: sub.PatientID}
	source := SourceStructured
	if text != "" {
		rec, err := s.extractor.ExtractVisit(ctx, text)
		if err != nil {
			return nil, extraction.Classify(err)
		}
		v.Diagnosis = rec.Diagnosis
		v.Prescriptions = clinical.Prescriptions{Medications: rec.Prescriptions, Precautions: rec.Precautions}
		source = SourceDictation
	} else {
		rx := clinical.Prescriptions{
			Medications:       sub.Medications,
			Precautions:       clinical.CleanList(sub.Precautions),
			ExtraInstructions: sub.ExtraInstructions,
		}
		rx.Normalize()
		if msgs := rx.Validate(); len(msgs) > 0 {
			return nil, apierr.Invalid(msgs...)
		}
		v.Diagnosis = clinical.CleanList(sub.Diagnosis)
		v.Prescriptions = rx
	}

	if err := s.Create(ctx, v, source); err != nil {
		return nil, err
	}

	if err := s.patients.TouchLastVisit(ctx, v.PatientID, v.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", v.PatientID.String()).Msg("last visit not updated")
	}
	return v, nil
}

// Create inserts v as-is. The patient must already exist.
func (s *Service) Create(ctx context.Context, v *Visit, source string) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return fmt.Errorf("create visit: %w", err)
	}
	s.metrics.VisitRecorded(source)
	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("patient_id", v.PatientID.String()).
		Str("source", source).
		Msg("visit recorded")
	return nil
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID) ([]Summary, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) Get(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	return s.repo.Get(ctx, patientID, visitID)
}

// Report loads the patient and one of their visits for printing.
func (s *Service) Report(ctx context.Context, patientID, visitID uuid.UUID) (*Report, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("visit report: %w", err)
	}
	v, err := s.repo.Get(ctx, patientID, visitID)
	if err != nil {
		return nil, fmt.Errorf("visit report: %w", err)
	}
	return &Report{Patient: p, Visit: v}, nil
}
