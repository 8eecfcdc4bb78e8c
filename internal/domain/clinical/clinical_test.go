package clinical

import (
	"encoding/json"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"Active", StatusActive, false},
		{"inactive", StatusInactive, false},
		{" DISCHARGED ", StatusDischarged, false},
		{"", StatusActive, false},
		{"Deceased", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatus_IsValid(t *testing.T) {
	if !StatusDischarged.IsValid() {
		t.Error("expected Discharged to be valid")
	}
	if Status("active").IsValid() {
		t.Error("expected exact-case check to reject lower-case")
	}
}

func TestAmount_Unmarshal(t *testing.T) {
	var m Medication
	err := json.Unmarshal([]byte(`{"nameofmedicine":"Paracetamol","dosage":500,"duration":"3"}`), &m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Dosage != "500" || m.Duration != "3" {
		t.Errorf("unexpected amounts: dosage=%q duration=%q", m.Dosage, m.Duration)
	}

	if err := json.Unmarshal([]byte(`{"dosage":true}`), &m); err == nil {
		t.Error("expected error for boolean dosage")
	}
}

func TestMedication_NormalizeAndValidate(t *testing.T) {
	m := Medication{NameOfMedicine: " Paracetamol ", Frequency: "Daily", EmptyStomach: "NO", DurationUnit: "Days"}
	m.Normalize()
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Frequency != Daily || m.EmptyStomach != EmptyStomachNo || m.DurationUnit != Days {
		t.Errorf("expected lower-cased enums, got %+v", m)
	}

	bad := Medication{NameOfMedicine: "X", Frequency: "hourly"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown frequency")
	}
	if err := (Medication{}).Validate(); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestPrescriptions_Normalize(t *testing.T) {
	var p Prescriptions
	p.Normalize()
	b, _ := json.Marshal(p)
	if string(b) != `{"medications":[],"precautions":[]}` {
		t.Errorf("unexpected JSON %s", b)
	}
}

func TestMedicalHistory_JSONKeys(t *testing.T) {
	m := MedicalHistory{BP: "120/80"}
	m.Normalize()
	b, _ := json.Marshal(m)
	want := `{"disease":[],"active_med":[],"BP":"120/80","deficiencies":[]}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestCleanList(t *testing.T) {
	got := CleanList([]string{" Viral fever ", "", "  ", "Cough"})
	if len(got) != 2 || got[0] != "Viral fever" || got[1] != "Cough" {
		t.Errorf("unexpected list %v", got)
	}
}
