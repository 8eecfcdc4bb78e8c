package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	// ListByPatient returns id and date of every visit, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Summary, error)
	Get(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error)
}
