package extraction

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

const ashaIntakeReply = "```json\n" + `{
  "medicalHistory": {"disease": ["Type 2 diabetes"], "active_med": ["Metformin"], "BP": "130/85", "deficiencies": []},
  "diagnosis": ["Viral fever", " "],
  "prescriptions": [
    {"nameofmedicine": "Paracetamol", "dosage": 500, "frequency": "Daily", "emptyStomach": "no", "duration": "5", "durationUnit": "days"}
  ],
  "precautions": ["Drink plenty of fluids."],
  "condition": "Febrile but stable.",
  "status": "active",
  "confidence": 0.9
}` + "\n```"

func TestExtractIntake(t *testing.T) {
	gen, prompts := staticGen(ashaIntakeReply, nil)
	rec, err := NewClient(gen).ExtractIntake(context.Background(), "fever two days, paracetamol 500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len((*prompts)[0]) <= len(IntakeTemplate) || (*prompts)[0][:len(IntakeTemplate)] != IntakeTemplate {
		t.Error("expected the intake template to lead the prompt")
	}
	if rec.Status != clinical.StatusActive {
		t.Errorf("expected Active, got %q", rec.Status)
	}
	if len(rec.Diagnosis) != 1 || rec.Diagnosis[0] != "Viral fever" {
		t.Errorf("unexpected diagnosis %v", rec.Diagnosis)
	}
	if rec.MedicalHistory.BP != "130/85" || rec.MedicalHistory.Deficiencies == nil {
		t.Errorf("unexpected history %+v", rec.MedicalHistory)
	}
	if len(rec.Prescriptions) != 1 {
		t.Fatalf("expected one medication, got %d", len(rec.Prescriptions))
	}
	med := rec.Prescriptions[0]
	if med.Dosage != "500" || med.Frequency != clinical.Daily || med.DurationUnit != clinical.Days {
		t.Errorf("unexpected medication %+v", med)
	}
	if rec.Condition != "Febrile but stable." {
		t.Errorf("unexpected condition %q", rec.Condition)
	}
}

func TestExtractIntake_StatusDefaultsToActive(t *testing.T) {
	gen, _ := staticGen(`{"medicalHistory":{},"diagnosis":[],"prescriptions":[],"precautions":[]}`, nil)
	rec, err := NewClient(gen).ExtractIntake(context.Background(), "routine check")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != clinical.StatusActive {
		t.Errorf("expected Active, got %q", rec.Status)
	}
	if rec.Prescriptions == nil || rec.MedicalHistory.Disease == nil {
		t.Error("expected empty lists rather than nil")
	}
}

func TestExtractIntake_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"missing keys", `{"diagnosis":[]}`},
		{"unknown status", `{"medicalHistory":{},"diagnosis":[],"prescriptions":[],"precautions":[],"status":"Recovering"}`},
		{"wrong type", `{"medicalHistory":{},"diagnosis":"fever","prescriptions":[],"precautions":[]}`},
		{"bad medication", `{"medicalHistory":{},"diagnosis":[],"prescriptions":[{"nameofmedicine":"X","frequency":"hourly"}],"precautions":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, _ := staticGen(tt.reply, nil)
			_, err := NewClient(gen).ExtractIntake(context.Background(), "text")
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.Reply != tt.reply {
				t.Errorf("expected raw reply to be kept, got %q", pe.Reply)
			}
		})
	}
}

func TestExtractVisit(t *testing.T) {
	reply := `{"diagnosis":["Recovering"],"prescriptions":[{"nameofmedicine":"ORS","dosage":"1 sachet","frequency":"daily","emptyStomach":"","duration":3,"durationUnit":"Days"}],"precautions":[]}`
	gen, prompts := staticGen(reply, nil)

	rec, err := NewClient(gen).ExtractVisit(context.Background(), "better today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if (*prompts)[0] != VisitTemplate+"\n\nbetter today" {
		t.Error("expected the visit template in the prompt")
	}
	if len(rec.Prescriptions) != 1 || rec.Prescriptions[0].Duration != "3" || rec.Prescriptions[0].DurationUnit != clinical.Days {
		t.Errorf("unexpected prescriptions %+v", rec.Prescriptions)
	}
	if rec.Precautions == nil || len(rec.Precautions) != 0 {
		t.Errorf("expected empty precautions, got %v", rec.Precautions)
	}
}

func TestExtractVisit_MissingPrecautions(t *testing.T) {
	gen, _ := staticGen(`{"diagnosis":[],"prescriptions":[]}`, nil)
	_, err := NewClient(gen).ExtractVisit(context.Background(), "text")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func scrape(t *testing.T, m *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestExtract_RejectedShapeCountsAsParseError(t *testing.T) {
	m := metrics.NewCollector("voicemd")

	gen, _ := staticGen(`{"medicalHistory":{},"diagnosis":"fever","prescriptions":[],"precautions":[]}`, nil)
	if _, err := NewClient(gen, WithMetrics(m)).ExtractIntake(context.Background(), "text"); !isParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	gen, _ = staticGen(`{"diagnosis":[],"prescriptions":[]}`, nil)
	if _, err := NewClient(gen, WithMetrics(m)).ExtractVisit(context.Background(), "text"); !isParseError(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	body := scrape(t, m)
	for _, want := range []string{
		`voicemd_extraction_duration_seconds_count{outcome="parse_error",template="intake"} 1`,
		`voicemd_extraction_duration_seconds_count{outcome="parse_error",template="visit"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
	if strings.Contains(body, `outcome="ok"`) {
		t.Error("rejected replies must not be recorded as ok")
	}
}

func TestExtract_DecodedReplyCountsAsOK(t *testing.T) {
	m := metrics.NewCollector("voicemd")
	gen, _ := staticGen(ashaIntakeReply, nil)
	if _, err := NewClient(gen, WithMetrics(m)).ExtractIntake(context.Background(), "fever"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(scrape(t, m), `voicemd_extraction_duration_seconds_count{outcome="ok",template="intake"} 1`) {
		t.Error("expected one ok observation for intake")
	}
}
