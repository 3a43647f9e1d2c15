package effects

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/domain/documents"
)

func ptr(f float64) *float64 { return &f }

func TestConfidenceAnnotation(t *testing.T) {
	tests := []struct {
		in   float64
		want string
		ok   bool
	}{
		{0.875, "AI 88%", true},
		{0.5, "AI 50%", true},
		{0.125, "AI 12%", true},
		{0, "AI 0%", true},
		{1, "AI 100%", true},
		{1.01, "", false},
		{-0.1, "", false},
		{math.NaN(), "", false},
	}
	for _, tt := range tests {
		a, ok := ConfidenceAnnotation(tt.in)
		if ok != tt.ok || a.Text != tt.want {
			t.Errorf("ConfidenceAnnotation(%v) = %q,%v want %q,%v", tt.in, a.Text, ok, tt.want, tt.ok)
		}
		if ok && a.Color != ColorConfidence {
			t.Errorf("unexpected color %q", a.Color)
		}
	}
}

func TestBuildAnnotations(t *testing.T) {
	got := BuildAnnotations(ptr(0.9), "Patient not found")
	if len(got) != 1 || got[0].Text != "AI 90%" {
		t.Errorf("expected confidence to win, got %v", got)
	}
	got = BuildAnnotations(nil, "Patient not found")
	if len(got) != 1 || got[0].Color != ColorError {
		t.Errorf("expected error annotation, got %v", got)
	}
	got = BuildAnnotations(ptr(2), "")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestNewCategorizeDocument(t *testing.T) {
	typ := documents.Type{Key: "lab", Name: "Lab Report", ReportType: "LAB", TemplateType: "LabReportTemplate"}
	eff, err := NewCategorizeDocument("doc-1", typ, ptr(0.8), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eff.DocumentType.TemplateType == nil || *eff.DocumentType.TemplateType != "LabReportTemplate" {
		t.Errorf("unexpected template type %v", eff.DocumentType.TemplateType)
	}
	if eff.SourceProtocol != SourceProtocol || eff.EffectType() != TypeCategorizeDocument {
		t.Errorf("unexpected effect %+v", eff)
	}

	typ.TemplateType = ""
	eff, _ = NewCategorizeDocument("doc-1", typ, nil, "")
	raw, _ := json.Marshal(eff)
	var m map[string]any
	json.Unmarshal(raw, &m)
	dt := m["document_type"].(map[string]any)
	if v, ok := dt["template_type"]; !ok || v != nil {
		t.Errorf("expected null template_type, got %v", dt)
	}

	if _, err := NewCategorizeDocument("doc-1", documents.Type{Key: "x"}, nil, ""); err == nil {
		t.Error("expected error for incomplete type")
	}
	if _, err := NewCategorizeDocument("", typ, nil, ""); err == nil {
		t.Error("expected error for missing document id")
	}
}

func TestNewAssignDocumentReviewer(t *testing.T) {
	id := uuid.New()
	eff, err := NewAssignDocumentReviewer("doc-1", id, true, ptr(0.9), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eff.Annotations) != 1 || eff.Annotations[0].Text != "Auto-assigned" || eff.Annotations[0].Color != ColorAutoAssigned {
		t.Errorf("unexpected annotations %v", eff.Annotations)
	}
	if eff.Priority != PriorityHigh || eff.ReviewMode != ReviewModeNotRequired {
		t.Errorf("unexpected effect %+v", eff)
	}

	eff, _ = NewAssignDocumentReviewer("doc-1", id, false, nil, "Patient not found")
	if len(eff.Annotations) != 1 || eff.Annotations[0].Text != "Patient not found" {
		t.Errorf("expected error annotation, got %v", eff.Annotations)
	}

	if _, err := NewAssignDocumentReviewer("doc-1", uuid.Nil, false, nil, ""); err == nil {
		t.Error("expected error for nil reviewer")
	}
}

func TestNewLinkDocumentToPatient(t *testing.T) {
	id := uuid.New()
	eff, err := NewLinkDocumentToPatient("doc-1", id, ptr(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eff.PatientKey != id.String() || eff.Annotations[0].Text != "AI 50%" {
		t.Errorf("unexpected effect %+v", eff)
	}
	if _, err := NewLinkDocumentToPatient("", id, nil); err == nil {
		t.Error("expected error for missing document id")
	}
}

func TestNewPrefillDocumentFields(t *testing.T) {
	if _, err := NewPrefillDocumentFields("doc-1", nil); err == nil {
		t.Error("expected error without templates")
	}
	eff, err := NewPrefillDocumentFields("doc-1", []PrefillTemplate{{TemplateID: uuid.New(), TemplateName: "CBC"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eff.EffectType() != TypePrefillDocumentFields || len(eff.Templates) != 1 {
		t.Errorf("unexpected effect %+v", eff)
	}
}

func TestWrap_SkipsNil(t *testing.T) {
	link, _ := NewLinkDocumentToPatient("doc-1", uuid.New(), nil)
	got := Wrap([]Effect{nil, link})
	if len(got) != 1 || got[0].Type != TypeLinkDocumentToPatient {
		t.Errorf("unexpected envelopes %+v", got)
	}
	raw, err := json.Marshal(got[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(raw, &m)
	if m["type"] != TypeLinkDocumentToPatient {
		t.Errorf("unexpected envelope json %v", m)
	}
}
