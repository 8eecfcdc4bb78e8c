package patient

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
	"github.com/Ni-011/voiceMD-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients", h.GetPatients)
	g.PATCH("/patients", h.UpdatePatient)
	g.PATCH("/patients/status", h.UpdateStatus)
	g.GET("/search", h.Search)
}

// GetPatients returns one patient when patientId is given, otherwise a page
// of the clinician's patients.
func (h *Handler) GetPatients(c echo.Context) error {
	ctx := c.Request().Context()

	if raw := c.QueryParam("patientId"); raw != "" {
		id, err := ParseID("patientId", raw)
		if err != nil {
			return err
		}
		p, err := h.svc.Get(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}

	doctorID, err := auth.DoctorID(ctx, c.QueryParam("doctorId"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.List(ctx, doctorID, pg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}

type statusRequest struct {
	PatientID string `json:"patientId" validate:"required,uuid"`
	Status    string `json:"status" validate:"required"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Invalid("request body must be valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	change, err := h.svc.UpdateStatus(c.Request().Context(), uuid.MustParse(req.PatientID), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, change)
}

type updateRequest struct {
	PatientID string `json:"patientId" validate:"required,uuid"`
	UpdateFields
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Invalid("request body must be valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	p, err := h.svc.Update(c.Request().Context(), uuid.MustParse(req.PatientID), req.UpdateFields)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	doctorID, err := auth.DoctorID(ctx, c.QueryParam("doctorId"))
	if err != nil {
		return err
	}
	patients, err := h.svc.Search(ctx, doctorID, c.QueryParam("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

// ParseID parses a UUID request parameter, reporting bad input as a
// validation error on field.
func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apierr.Invalid(field + " must be a valid UUID")
	}
	return id, nil
}
