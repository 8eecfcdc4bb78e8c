package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
)

var auditedPrefixes = []string{"/patients", "/visits", "/search", "/reports"}

// Audit emits one structured record access line per request touching
// patient data: who, which patient, what action, and the outcome.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)

			logger.Info().
				Str("type", "record_access").
				Str("request_id", rid).
				Str("clinician_id", auth.UserIDFromContext(req.Context())).
				Str("patient_id", c.QueryParam("patientId")).
				Str("action", methodToAction(req.Method)).
				Str("path", req.URL.Path).
				Int("status", status).
				Msg("record_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
