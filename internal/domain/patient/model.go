package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
)

var ErrPatientNotFound = apierr.NotFound("patient not found")

// DefaultGender is stored when an intake form leaves gender blank.
const DefaultGender = "unspecified"

type Patient struct {
	ID             uuid.UUID               `json:"id"`
	Name           string                  `json:"name"`
	Age            *int                    `json:"age"`
	Gender         string                  `json:"gender"`
	Phone          *string                 `json:"phone"`
	Email          *string                 `json:"email"`
	Address        *string                 `json:"address"`
	MedicalHistory clinical.MedicalHistory `json:"medicalHistory"`
	DoctorID       string                  `json:"doctorId"`
	LastVisit      *time.Time              `json:"lastVisit"`
	Condition      *string                 `json:"condition"`
	Status         clinical.Status         `json:"status"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// UpdateFields is a partial update. Nil fields are left unchanged.
type UpdateFields struct {
	Name           *string                  `json:"name"`
	Age            *int                     `json:"age"`
	Gender         *string                  `json:"gender"`
	Phone          *string                  `json:"phone"`
	Email          *string                  `json:"email" validate:"omitempty,email"`
	Address        *string                  `json:"address"`
	Condition      *string                  `json:"condition"`
	MedicalHistory *clinical.MedicalHistory `json:"medicalHistory"`
}

func (f UpdateFields) Empty() bool {
	return f.Name == nil && f.Age == nil && f.Gender == nil && f.Phone == nil &&
		f.Email == nil && f.Address == nil && f.Condition == nil && f.MedicalHistory == nil
}

// StatusChange is the body returned after a status patch.
type StatusChange struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Status clinical.Status `json:"status"`
}

// StringPtr returns nil for blank input so optional text columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
