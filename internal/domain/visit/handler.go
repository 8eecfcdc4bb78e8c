package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/visits", h.RecordVisit)
	g.GET("/visits", h.GetVisits)
	g.GET("/reports/visit", h.GetReport)
}

type recordRequest struct {
	PatientID         string                `json:"patientId" validate:"required,uuid"`
	Text              string                `json:"text"`
	Diagnosis         []string              `json:"diagnosis"`
	Prescriptions     []clinical.Medication `json:"prescriptions"`
	Precautions       []string              `json:"precautions"`
	ExtraInstructions string                `json:"extraInstructions"`
}

func (h *Handler) RecordVisit(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Invalid("request body must be valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	v, err := h.svc.Record(c.Request().Context(), Submission{
		PatientID:         uuid.MustParse(req.PatientID),
		Text:              req.Text,
		Diagnosis:         req.Diagnosis,
		Medications:       req.Prescriptions,
		Precautions:       req.Precautions,
		ExtraInstructions: req.ExtraInstructions,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// GetVisits returns one visit when visitId is given, otherwise the
// patient's visit list.
func (h *Handler) GetVisits(c echo.Context) error {
	ctx := c.Request().Context()

	patientID, err := requiredID(c, "patientId")
	if err != nil {
		return err
	}

	if raw := c.QueryParam("visitId"); raw != "" {
		visitID, err := patient.ParseID("visitId", raw)
		if err != nil {
			return err
		}
		v, err := h.svc.Get(ctx, patientID, visitID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, v)
	}

	summaries, err := h.svc.List(ctx, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summaries)
}

func (h *Handler) GetReport(c echo.Context) error {
	patientID, err := requiredID(c, "patientId")
	if err != nil {
		return err
	}
	visitID, err := requiredID(c, "visitId")
	if err != nil {
		return err
	}

	report, err := h.svc.Report(c.Request().Context(), patientID, visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func requiredID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, apierr.Invalid(name + " is required")
	}
	return patient.ParseID(name, raw)
}
