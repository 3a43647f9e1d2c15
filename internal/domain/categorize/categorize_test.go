package categorize

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/platform/extend"
)

type mockExtractor struct {
	out    *extend.Output
	err    error
	calls  int
	config *extend.ExtractConfig
}

func (m *mockExtractor) Extract(_ context.Context, _ string, cfg *extend.ExtractConfig) (*extend.Output, error) {
	m.calls++
	m.config = cfg
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

var testTypes = []documents.Type{
	{Key: "lab", Name: "Lab Report", ReportType: "LAB", TemplateType: "LabReportTemplate"},
	{Key: "img", Name: "Imaging Report", ReportType: "IMAGING", TemplateType: "ImagingReportTemplate"},
	{Key: "lab2", Name: "lab report", ReportType: "LAB"},
	{Key: "blank", ReportType: "LAB"},
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Lab Report", "lab_report"},
		{"  Imaging / CT Scan ", "imaging_ct_scan"},
		{"--Referral--", "referral"},
		{"ABC123", "abc123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildSlugMap_FirstWins(t *testing.T) {
	m, order := BuildSlugMap(testTypes)
	if len(m) != 2 {
		t.Fatalf("expected 2 slugs, got %v", m)
	}
	if m["lab_report"].Key != "lab" {
		t.Errorf("expected first type to win, got %+v", m["lab_report"])
	}
	if len(order) != 2 || order[0] != "lab_report" || order[1] != "imaging_report" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestBuildExtractionSchema(t *testing.T) {
	cfg := BuildExtractionSchema([]string{"lab_report"})
	props := cfg.Schema.Properties
	dt := props["document_type"]
	if dt.Type != "string" || len(dt.Enum) != 1 || dt.Enum[0] != "lab_report" {
		t.Errorf("unexpected document_type property %+v", dt)
	}
	if props["date_of_birth"].ExtendType != "date" {
		t.Errorf("expected date extend type, got %+v", props["date_of_birth"])
	}
	if props["loinc_codes"].Description != "LOINC codes" {
		t.Errorf("unexpected loinc description %q", props["loinc_codes"].Description)
	}
	if len(cfg.Schema.Required) != 1 || cfg.Schema.Required[0] != "document_type" {
		t.Errorf("unexpected required %v", cfg.Schema.Required)
	}
	if len(props) != 16 {
		t.Errorf("expected 16 properties, got %d", len(props))
	}

	if BuildExtractionSchema(nil).Schema.Properties["document_type"].Enum != nil {
		t.Error("expected no enum without slugs")
	}
}

func TestMinConfidence(t *testing.T) {
	md := map[string]any{
		"document_type": map[string]any{"ocrConfidence": 0.9},
		"loinc_codes":   map[string]any{"ocrConfidence": 0.72},
		"patient_name":  map[string]any{"ocrConfidence": "high"},
		"other":         "not a map",
	}
	got := MinConfidence(md)
	if got == nil || *got != 0.72 {
		t.Errorf("expected 0.72, got %v", got)
	}
	if MinConfidence(map[string]any{"a": map[string]any{}}) != nil {
		t.Error("expected nil without confidences")
	}
	if MinConfidence(nil) != nil {
		t.Error("expected nil for nil metadata")
	}
}

func TestCategorize_Success(t *testing.T) {
	ext := &mockExtractor{out: &extend.Output{
		Value: map[string]any{
			"document_type": "lab_report",
			"loinc_codes":   "2345-7, 718-7",
			"patient_name":  "Jane Doe",
		},
		Metadata: map[string]any{
			"document_type": map[string]any{"ocrConfidence": 0.95},
			"loinc_codes":   map[string]any{"ocrConfidence": 0.8},
		},
	}}
	c := NewCategorizer(ext, zerolog.Nop())

	res := c.Categorize(context.Background(), "https://files/doc.pdf", testTypes)
	if !res.OK() {
		t.Fatalf("unexpected error %q", res.Err)
	}
	if res.DocumentType == nil || res.DocumentType.Key != "lab" {
		t.Errorf("expected lab type, got %+v", res.DocumentType)
	}
	if res.Confidence == nil || *res.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", res.Confidence)
	}
	if res.Extraction.PatientName != "Jane Doe" {
		t.Errorf("unexpected extraction %+v", res.Extraction)
	}
	if got := ext.config.Schema.Properties["document_type"].Enum; len(got) != 2 {
		t.Errorf("expected enum of 2 slugs, got %v", got)
	}
}

func TestCategorize_UnknownSlug(t *testing.T) {
	ext := &mockExtractor{out: &extend.Output{Value: map[string]any{"document_type": "fax_cover"}}}
	res := NewCategorizer(ext, zerolog.Nop()).Categorize(context.Background(), "u", testTypes)
	if !res.OK() {
		t.Fatalf("unexpected error %q", res.Err)
	}
	if res.DocumentType != nil {
		t.Errorf("expected no type, got %+v", res.DocumentType)
	}
	if res.Confidence != nil {
		t.Errorf("expected nil confidence, got %v", *res.Confidence)
	}
}

func TestCategorize_LenientDocumentType(t *testing.T) {
	ext := &mockExtractor{out: &extend.Output{Value: map[string]any{
		"document_type": "imaging_report",
		"loinc_codes":   42.0,
	}}}
	res := NewCategorizer(ext, zerolog.Nop()).Categorize(context.Background(), "u", testTypes)
	if res.DocumentType == nil || res.DocumentType.Key != "img" {
		t.Errorf("expected imaging type, got %+v", res.DocumentType)
	}
}

func TestCategorize_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"retries", fmt.Errorf("%w: status 503", extend.ErrRetriesExhausted), "API request failed after retries"},
		{"api", &extend.APIError{Status: 400, Code: "INVALID_FILE"}, "Extend.ai: status=400 | code=INVALID_FILE"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := &mockExtractor{err: tt.err}
			res := NewCategorizer(ext, zerolog.Nop()).Categorize(context.Background(), "u", testTypes)
			if res.OK() || res.Err != tt.want {
				t.Errorf("Err = %q, want %q", res.Err, tt.want)
			}
			if res.DocumentType != nil || res.Confidence != nil {
				t.Errorf("expected empty result, got %+v", res)
			}
		})
	}
}

func TestCategorize_MissingURL(t *testing.T) {
	ext := &mockExtractor{}
	res := NewCategorizer(ext, zerolog.Nop()).Categorize(context.Background(), "", testTypes)
	if res.Err != "Missing file URL" {
		t.Errorf("unexpected error %q", res.Err)
	}
	if ext.calls != 0 {
		t.Errorf("expected no extraction, got %d calls", ext.calls)
	}
}
