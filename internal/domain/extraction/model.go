package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// DocumentExtraction holds the top-level fields the extraction service pulled
// out of a document. Code and name lists keep the raw upstream value (a string,
// a delimited string, or a list) and are normalised with ToList on use.
// Unrecognised keys are kept in Extra.
type DocumentExtraction struct {
	DocumentType string `json:"document_type,omitempty"`
	LOINCCodes   any    `json:"loinc_codes,omitempty"`
	SNOMEDCodes  any    `json:"snomed_codes,omitempty"`
	TestNames    any    `json:"test_names,omitempty"`
	StudyNames   any    `json:"study_names,omitempty"`
	Modality     any    `json:"modality,omitempty"`
	BodyPart     any    `json:"body_part,omitempty"`

	PatientID        string `json:"patient_id,omitempty"`
	PatientFirstName string `json:"patient_first_name,omitempty"`
	PatientLastName  string `json:"patient_last_name,omitempty"`
	PatientName      string `json:"patient_name,omitempty"`
	DateOfBirth      string `json:"date_of_birth,omitempty"`

	PractitionerNPI       string `json:"practitioner_npi,omitempty"`
	PractitionerFirstName string `json:"practitioner_first_name,omitempty"`
	PractitionerLastName  string `json:"practitioner_last_name,omitempty"`
	PractitionerName      string `json:"practitioner_name,omitempty"`

	Extra map[string]any `json:"-"`

	lenient bool
}

type fieldKind int

const (
	stringField fieldKind = iota
	listField
)

type knownField struct {
	kind   fieldKind
	target func(e *DocumentExtraction) any
}

var knownFields = map[string]knownField{
	"document_type":           {stringField, func(e *DocumentExtraction) any { return &e.DocumentType }},
	"loinc_codes":             {listField, func(e *DocumentExtraction) any { return &e.LOINCCodes }},
	"snomed_codes":            {listField, func(e *DocumentExtraction) any { return &e.SNOMEDCodes }},
	"test_names":              {listField, func(e *DocumentExtraction) any { return &e.TestNames }},
	"study_names":             {listField, func(e *DocumentExtraction) any { return &e.StudyNames }},
	"modality":                {listField, func(e *DocumentExtraction) any { return &e.Modality }},
	"body_part":               {listField, func(e *DocumentExtraction) any { return &e.BodyPart }},
	"patient_id":              {stringField, func(e *DocumentExtraction) any { return &e.PatientID }},
	"patient_first_name":      {stringField, func(e *DocumentExtraction) any { return &e.PatientFirstName }},
	"patient_last_name":       {stringField, func(e *DocumentExtraction) any { return &e.PatientLastName }},
	"patient_name":            {stringField, func(e *DocumentExtraction) any { return &e.PatientName }},
	"date_of_birth":           {stringField, func(e *DocumentExtraction) any { return &e.DateOfBirth }},
	"practitioner_npi":        {stringField, func(e *DocumentExtraction) any { return &e.PractitionerNPI }},
	"practitioner_first_name": {stringField, func(e *DocumentExtraction) any { return &e.PractitionerFirstName }},
	"practitioner_last_name":  {stringField, func(e *DocumentExtraction) any { return &e.PractitionerLastName }},
	"practitioner_name":       {stringField, func(e *DocumentExtraction) any { return &e.PractitionerName }},
}

// Parse builds a DocumentExtraction from a decoded JSON object. Values are
// validated against the known field types first; when that fails the record is
// constructed best-effort instead, so Parse never fails on unexpected shapes.
func Parse(raw map[string]any) *DocumentExtraction {
	if e, err := parseStrict(raw); err == nil {
		return e
	}
	return construct(raw)
}

// Lenient reports whether the record was built by the best-effort path.
func (e *DocumentExtraction) Lenient() bool {
	return e.lenient
}

// Get returns an unrecognised field by name.
func (e *DocumentExtraction) Get(key string) (any, bool) {
	v, ok := e.Extra[key]
	return v, ok
}

func parseStrict(raw map[string]any) (*DocumentExtraction, error) {
	e := &DocumentExtraction{}
	for key, val := range raw {
		f, ok := knownFields[key]
		if !ok {
			e.setExtra(key, val)
			continue
		}
		if val == nil {
			continue
		}
		switch f.kind {
		case stringField:
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string, got %T", key, val)
			}
			assign(f.target(e), s)
		case listField:
			if !isStringOrStringList(val) {
				return nil, fmt.Errorf("%s: expected string or list of strings, got %T", key, val)
			}
			*(f.target(e).(*any)) = val
		}
	}
	return e, nil
}

func construct(raw map[string]any) *DocumentExtraction {
	e := &DocumentExtraction{lenient: true}
	for key, val := range raw {
		f, ok := knownFields[key]
		if !ok {
			e.setExtra(key, val)
			continue
		}
		if val == nil {
			continue
		}
		if f.kind == listField {
			*(f.target(e).(*any)) = val
			continue
		}
		if s, ok := scalarString(val); ok {
			assign(f.target(e), s)
			continue
		}
		// Keep what cannot be coerced so nothing upstream is lost.
		e.setExtra(key, val)
	}
	return e
}

func assign(target any, s string) {
	switch p := target.(type) {
	case *string:
		*p = s
	case *any:
		*p = s
	}
}

func (e *DocumentExtraction) setExtra(key string, val any) {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = val
}

func isStringOrStringList(v any) bool {
	switch t := v.(type) {
	case string:
		return true
	case []string:
		return true
	case []any:
		for _, item := range t {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

// UnmarshalJSON decodes any JSON object through Parse.
func (e *DocumentExtraction) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = *Parse(raw)
	return nil
}

// MarshalJSON writes the known fields followed by the extra ones.
func (e DocumentExtraction) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(knownFields)+len(e.Extra))
	for key, val := range e.Extra {
		out[key] = val
	}
	keys := make([]string, 0, len(knownFields))
	for key := range knownFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := knownFields[key].target(&e).(type) {
		case *string:
			if *v != "" {
				out[key] = *v
			}
		case *any:
			if *v != nil {
				out[key] = *v
			}
		}
	}
	return json.Marshal(out)
}
