package intake

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/patients", h.SubmitIntake)
}

type submitRequest struct {
	Text     string `json:"text"`
	DoctorID string `json:"doctorId"`
	Name     string `json:"name"`
	Age      *int   `json:"age"`
	Gender   string `json:"gender"`
	Phone    string `json:"phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	Address  string `json:"address"`
}

// SubmitIntake creates a visit for a new or matched patient. The doctor id
// falls back to the authenticated clinician.
func (h *Handler) SubmitIntake(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Invalid("request body must be valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	doctorID, err := auth.DoctorID(ctx, req.DoctorID)
	if err != nil {
		return err
	}
	res, err := h.svc.Submit(ctx, Submission{
		Text:     req.Text,
		DoctorID: doctorID,
		Name:     req.Name,
		Age:      req.Age,
		Gender:   req.Gender,
		Phone:    req.Phone,
		Email:    req.Email,
		Address:  req.Address,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
