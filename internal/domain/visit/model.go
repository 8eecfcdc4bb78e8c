package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
)

var ErrVisitNotFound = apierr.NotFound("visit not found")

// Visit is one encounter. Visits are never edited; a correction is recorded
// as a new visit.
type Visit struct {
	ID            uuid.UUID              `json:"id"`
	Diagnosis     []string               `json:"diagnosis"`
	Prescriptions clinical.Prescriptions `json:"prescriptions"`
	PatientID     uuid.UUID              `json:"patientId"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Summary is the lightweight list entry for a patient's visits.
type Summary struct {
	ID   uuid.UUID `json:"id"`
	Date time.Time `json:"date"`
}

// Submission records a visit either from dictated Text or from corrected
// structured fields. Text wins when both are present.
type Submission struct {
	PatientID         uuid.UUID
	Text              string
	Diagnosis         []string
	Medications       []clinical.Medication
	Precautions       []string
	ExtraInstructions string
}

// Report is the payload of the printable visit report.
type Report struct {
	Patient *patient.Patient `json:"patient"`
	Visit   *Visit           `json:"visit"`
}
