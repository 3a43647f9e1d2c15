package extraction

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestToList(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"nil", nil, nil},
		{"single", "single", []string{"single"}},
		{"comma", "a, b, c", []string{"a", "b", "c"}},
		{"semicolon", "a; b; c", []string{"a", "b", "c"}},
		{"newline", "a\nb\nc", []string{"a", "b", "c"}},
		{"list", []any{"a", "b"}, []string{"a", "b"}},
		{"list of delimited", []any{"a, b", "c"}, []string{"a", "b", "c"}},
		{"nested list", []any{[]any{"a"}, []string{"b; c"}}, []string{"a", "b", "c"}},
		{"spaced", "  spaced  ", []string{"spaced"}},
		{"empty", "", nil},
		{"number", float64(123), []string{"123"}},
		{"int", 7, []string{"7"}},
		{"runs of separators", "a,,;\n b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToList(tt.value)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToList(%#v) = %#v, want %#v", tt.value, got, tt.want)
			}
		})
	}
}

func TestToList_Idempotent(t *testing.T) {
	inputs := []any{
		"11580-8, 3016-3;\n 2345-7",
		[]any{"a, b", []any{"c", float64(4)}, nil},
		"  lone  ",
	}
	for _, in := range inputs {
		once := ToList(in)
		twice := ToList(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("ToList not idempotent for %#v: %#v vs %#v", in, once, twice)
		}
	}
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"11580-8", true},
		{"SNOMED-123", true},
		{"abc123", true},
		{"NAN", true},
		{"", false},
		{"  ", false},
		{"N/A", false},
		{"NA", false},
		{"NONE", false},
		{"n/a", false},
		{"na", false},
		{"none", false},
		{"  N/A  ", false},
	}
	for _, tt := range tests {
		if got := IsValidCode(tt.code); got != tt.want {
			t.Errorf("IsValidCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCodes_LOINCFiltersPlaceholders(t *testing.T) {
	e := &DocumentExtraction{LOINCCodes: "11580-8, N/A, , NONE"}
	codes := e.Codes(LOINC)
	if len(codes) != 1 || !codes.Has("11580-8") {
		t.Errorf("expected {11580-8}, got %v", codes.Sorted())
	}
}

func TestCodes_SNOMEDAndDuplicates(t *testing.T) {
	e := &DocumentExtraction{
		LOINCCodes:  "1-1",
		SNOMEDCodes: []any{"12345", "67890", "12345"},
	}
	codes := e.Codes(SNOMED)
	if got := codes.Sorted(); !reflect.DeepEqual(got, []string{"12345", "67890"}) {
		t.Errorf("unexpected snomed codes %v", got)
	}
}

func TestCodes_Empty(t *testing.T) {
	e := &DocumentExtraction{}
	if len(e.Codes(LOINC)) != 0 {
		t.Error("expected empty code set")
	}
}

func TestKeywords(t *testing.T) {
	e := &DocumentExtraction{
		TestNames:  "  CBC  , BMP  ",
		StudyNames: []any{"MRI"},
		Modality:   "CT",
		BodyPart:   "Head",
	}
	want := []string{"CBC", "BMP", "MRI", "CT", "Head"}
	if got := e.Keywords(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}

	if got := (&DocumentExtraction{}).Keywords(); len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}

func TestKeywords_KeepsDuplicates(t *testing.T) {
	e := &DocumentExtraction{TestNames: "CBC", StudyNames: "CBC"}
	if got := e.Keywords(); !reflect.DeepEqual(got, []string{"CBC", "CBC"}) {
		t.Errorf("expected duplicates kept, got %v", got)
	}
}

func TestCodeSet_Covers(t *testing.T) {
	have := NewCodeSet("A", "B", "C")
	if !have.Covers(NewCodeSet("A", "C")) {
		t.Error("expected superset to cover subset")
	}
	if have.Covers(NewCodeSet("A", "D")) {
		t.Error("expected missing code to fail coverage")
	}
	if !have.Covers(CodeSet{}) {
		t.Error("every set covers the empty set")
	}
	if got := have.Missing([]string{"A", "D", "E"}); !reflect.DeepEqual(got, []string{"D", "E"}) {
		t.Errorf("Missing = %v", got)
	}
}

func TestParse_Valid(t *testing.T) {
	e := Parse(map[string]any{
		"document_type": "lab_report",
		"loinc_codes":   "11580-8",
		"patient_id":    "MRN123",
	})
	if e.Lenient() {
		t.Fatal("expected strict parse")
	}
	if e.DocumentType != "lab_report" || e.PatientID != "MRN123" {
		t.Errorf("unexpected extraction %+v", e)
	}
	if e.LOINCCodes != "11580-8" {
		t.Errorf("expected raw loinc codes kept, got %#v", e.LOINCCodes)
	}
}

func TestParse_ExtraFieldsPreserved(t *testing.T) {
	e := Parse(map[string]any{
		"document_type": "lab_report",
		"custom_field":  "custom_value",
	})
	v, ok := e.Get("custom_field")
	if !ok || v != "custom_value" {
		t.Errorf("expected custom_field preserved, got %v", v)
	}
}

func TestParse_Empty(t *testing.T) {
	e := Parse(map[string]any{})
	if e.DocumentType != "" || e.Lenient() {
		t.Errorf("unexpected extraction %+v", e)
	}
	e = Parse(nil)
	if e == nil {
		t.Fatal("expected non-nil extraction for nil input")
	}
}

func TestParse_InvalidTypesFallBack(t *testing.T) {
	e := Parse(map[string]any{
		"document_type": float64(123),
		"loinc_codes":   map[string]any{"nested": "object"},
		"patient_name":  []any{"not", "a", "string"},
		"modality":      "CT",
	})
	if !e.Lenient() {
		t.Fatal("expected best-effort parse")
	}
	if e.DocumentType != "123" {
		t.Errorf("expected coerced document type, got %q", e.DocumentType)
	}
	if e.Modality != "CT" {
		t.Errorf("expected modality kept, got %#v", e.Modality)
	}
	if _, ok := e.Get("patient_name"); !ok {
		t.Error("expected uncoercible value preserved in Extra")
	}
	// The nested object still normalises without panicking.
	_ = e.Codes(LOINC)
}

func TestParse_ListValuedModalityAndBodyPart(t *testing.T) {
	e := Parse(map[string]any{
		"test_names": "Chest CT",
		"modality":   []any{"CT", "MR"},
		"body_part":  []any{"Chest", "Abdomen"},
	})
	if e.Lenient() {
		t.Fatal("list-valued modality and body part should parse strictly")
	}
	if _, ok := e.Get("modality"); ok {
		t.Error("modality should not be pushed into Extra")
	}
	want := []string{"Chest CT", "CT", "MR", "Chest", "Abdomen"}
	got := e.Keywords()
	if len(got) != len(want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDocumentExtraction_JSONRoundTrip(t *testing.T) {
	in := []byte(`{"document_type":"imaging_report","snomed_codes":["1","2"],"vendor":"acme"}`)
	var e DocumentExtraction
	if err := json.Unmarshal(in, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.DocumentType != "imaging_report" {
		t.Errorf("unexpected document type %q", e.DocumentType)
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if back["vendor"] != "acme" {
		t.Errorf("expected extra field in output, got %v", back)
	}
	if _, ok := back["patient_id"]; ok {
		t.Error("empty fields should be omitted")
	}
}
