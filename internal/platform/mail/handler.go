package mail

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/mail", h.HandleSend)
}

func (h *Handler) HandleSend(c echo.Context) error {
	var req Contact
	if err := c.Bind(&req); err != nil {
		return apierr.Invalid("request body must be valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := h.svc.Relay(c.Request().Context(), req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Email sent successfully"})
}
