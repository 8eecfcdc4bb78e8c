package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
)

type Repository interface {
	// FindByNameAndContact returns the first patient of doctorID whose name
	// matches and whose phone or email matches, or nil when none does.
	// Blank phone or email never match.
	FindByNameAndContact(ctx context.Context, name, phone, email, doctorID string) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, id uuid.UUID, f UpdateFields) (*Patient, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status clinical.Status) (*Patient, error)
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Patient, int, error)
	SearchByName(ctx context.Context, doctorID, text string) ([]*Patient, error)
}
