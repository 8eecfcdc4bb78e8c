package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/pkg/pagination"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of the clinician's patients, most recently seen
// first, with the total count.
func (s *Service) List(ctx context.Context, doctorID string, p pagination.Params) ([]*Patient, int, error) {
	if doctorID == "" {
		return nil, 0, apierr.Invalid("doctorId is required")
	}
	return s.repo.ListByDoctor(ctx, doctorID, p.Limit, p.Offset())
}

// Search matches name as a case-insensitive substring.
func (s *Service) Search(ctx context.Context, doctorID, name string) ([]*Patient, error) {
	name = strings.TrimSpace(name)
	var missing []string
	if name == "" {
		missing = append(missing, "name is required")
	}
	if doctorID == "" {
		missing = append(missing, "doctorId is required")
	}
	if len(missing) > 0 {
		return nil, apierr.Invalid(missing...)
	}
	return s.repo.SearchByName(ctx, doctorID, name)
}

// UpdateStatus sets one of Active, Inactive or Discharged. Any other value
// is rejected before the store is touched.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*StatusChange, error) {
	st := clinical.Status(status)
	if !st.IsValid() {
		return nil, apierr.Invalid("status must be one of Active, Inactive, Discharged")
	}
	p, err := s.repo.UpdateStatus(ctx, id, st)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Str("status", string(p.Status)).Msg("patient status changed")
	return &StatusChange{ID: p.ID, Name: p.Name, Status: p.Status}, nil
}

// Update applies a partial demographic or history edit.
func (s *Service) Update(ctx context.Context, id uuid.UUID, f UpdateFields) (*Patient, error) {
	var msgs []string
	if f.Name != nil {
		name := strings.TrimSpace(*f.Name)
		if name == "" {
			msgs = append(msgs, "name must not be blank")
		}
		f.Name = &name
	}
	if f.Gender != nil {
		gender := strings.TrimSpace(*f.Gender)
		if gender == "" {
			gender = DefaultGender
		}
		f.Gender = &gender
	}
	if f.Age != nil && (*f.Age < 0 || *f.Age > 150) {
		msgs = append(msgs, "age must be between 0 and 150")
	}
	if len(msgs) > 0 {
		return nil, apierr.Invalid(msgs...)
	}
	for _, field := range []*string{f.Phone, f.Email, f.Address, f.Condition} {
		if field != nil {
			*field = strings.TrimSpace(*field)
		}
	}

	p, err := s.repo.Update(ctx, id, f)
	if err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return p, nil
}
