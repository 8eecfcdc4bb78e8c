package intake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/validate"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(f.svc), f, e
}

func postIntake(h *Handler, e *echo.Echo, body, clinician string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if clinician != "" {
		req = req.WithContext(auth.WithClinician(req.Context(), clinician, ""))
	}
	rec := httptest.NewRecorder()
	return rec, h.SubmitIntake(e.NewContext(req, rec))
}

func TestHandler_SubmitIntake(t *testing.T) {
	h, _, e := newTestHandler()

	rec, err := postIntake(h, e, `{"name":"Asha","phone":"999","text":"fever for 3 days","doctorId":"doc-1","age":34}`, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["new_patient"]; !ok {
		t.Error("expected new_patient in response")
	}
	if _, ok := body["new_visit"]; !ok {
		t.Error("expected new_visit in response")
	}

	rec, err = postIntake(h, e, `{"name":"Asha","phone":"999","text":"better","doctorId":"doc-1"}`, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body = nil
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["new_patient"]; ok {
		t.Error("matched intake must omit new_patient")
	}
}

func TestHandler_SubmitIntake_DoctorFromToken(t *testing.T) {
	h, f, e := newTestHandler()

	if _, err := postIntake(h, e, `{"name":"Asha","text":"fever"}`, "clinician-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range f.patients.patients {
		if p.DoctorID != "clinician-7" {
			t.Errorf("expected doctor id from token, got %q", p.DoctorID)
		}
	}
}

func TestHandler_SubmitIntake_ForeignDoctorForbidden(t *testing.T) {
	h, f, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(`{"name":"Asha","text":"fever","doctorId":"doc-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithVerifiedClinician(req.Context(), "doc-2", ""))
	err := h.SubmitIntake(e.NewContext(req, httptest.NewRecorder()))

	if status, _ := apierr.Resolve(err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%v)", status, err)
	}
	if len(f.patients.patients) != 0 {
		t.Error("no patient may be written into another clinician's scope")
	}
}

func TestHandler_SubmitIntake_Rejects(t *testing.T) {
	h, _, e := newTestHandler()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing doctor", `{"name":"Asha","text":"fever"}`, "doctorId is required"},
		{"bad email", `{"name":"Asha","text":"fever","doctorId":"doc-1","email":"nope"}`, "email must be a valid email address"},
		{"malformed", `{"name":`, "request body must be valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := postIntake(h, e, tt.body, "")
			status, body := apierr.Resolve(err)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%v)", status, err)
			}
			if len(body.Fields) != 1 || body.Fields[0] != tt.field {
				t.Errorf("unexpected fields %v", body.Fields)
			}
		})
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api"))

	for _, r := range e.Routes() {
		if r.Method == http.MethodPost && r.Path == "/api/patients" {
			return
		}
	}
	t.Error("POST /api/patients not registered")
}
