package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var errPatientNotFound = NotFound("patient not found")

func TestNotFound_Is(t *testing.T) {
	wrapped := fmt.Errorf("get patient: %w", errPatientNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected wrapped domain error to match ErrNotFound")
	}
	if !errors.Is(wrapped, errPatientNotFound) {
		t.Error("expected wrapped domain error to match itself")
	}
	if errors.Is(errors.New("other"), ErrNotFound) {
		t.Error("unrelated error must not match ErrNotFound")
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", Invalid("text is required"), http.StatusBadRequest, "validation failed: text is required"},
		{"wrapped validation", fmt.Errorf("submit: %w", Invalid("name is required")), http.StatusBadRequest, "validation failed: name is required"},
		{"not found", fmt.Errorf("lookup: %w", errPatientNotFound), http.StatusNotFound, "patient not found"},
		{"explicit", Wrap(http.StatusInternalServerError, "failed to structure dictation", errors.New("bad json")), http.StatusInternalServerError, "failed to structure dictation"},
		{"echo", echo.NewHTTPError(http.StatusUnauthorized, "invalid token"), http.StatusUnauthorized, "invalid token"},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "request timed out"},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Resolve(tt.err)
			if status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, status)
			}
			if body.Error != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, body.Error)
			}
		})
	}
}

func TestErrorHandler_WritesJSON(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), rec)

	ErrorHandler(zerolog.Nop())(Invalid("patientId is required"), c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Fields) != 1 || body.Fields[0] != "patientId is required" {
		t.Errorf("unexpected fields: %v", body.Fields)
	}
}

func TestErrorHandler_HidesInternalCause(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/visits", nil), rec)

	ErrorHandler(zerolog.Nop())(errors.New("dial tcp 10.0.0.5:5432: refused"), c)

	var body Response
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "internal server error" {
		t.Errorf("expected generic message, got %q", body.Error)
	}
}
