// Package categorize classifies a document against the configured document
// types and pulls out the top-level fields used for matching.
package categorize

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/extraction"
	"github.com/ehr/docproc/internal/platform/extend"
)

const (
	errMissingFileURL   = "Missing file URL"
	errRetriesExhausted = "API request failed after retries"
)

// Extractor runs a schema-driven extraction over a document.
type Extractor interface {
	Extract(ctx context.Context, fileURL string, cfg *extend.ExtractConfig) (*extend.Output, error)
}

// Result is the outcome of a categorization. Err is the only failure signal.
type Result struct {
	DocumentType *documents.Type
	Extraction   *extraction.DocumentExtraction
	Metadata     map[string]any
	Confidence   *float64
	Err          string
}

func (r *Result) OK() bool { return r.Err == "" }

type Categorizer struct {
	extractor Extractor
	logger    zerolog.Logger
}

func NewCategorizer(extractor Extractor, logger zerolog.Logger) *Categorizer {
	return &Categorizer{
		extractor: extractor,
		logger:    logger.With().Str("component", "categorize").Logger(),
	}
}

// Categorize classifies the document at fileURL as one of types and returns
// the extraction with its weakest field confidence.
func (c *Categorizer) Categorize(ctx context.Context, fileURL string, types []documents.Type) *Result {
	if fileURL == "" {
		return &Result{Err: errMissingFileURL}
	}

	slugs, order := BuildSlugMap(types)
	out, err := c.extractor.Extract(ctx, fileURL, BuildExtractionSchema(order))
	if err != nil {
		return &Result{Err: errorText(err)}
	}

	e := extraction.Parse(out.Value)
	slug := e.DocumentType
	if slug == "" {
		slug, _ = out.Value["document_type"].(string)
	}

	res := &Result{
		Extraction: e,
		Metadata:   out.Metadata,
		Confidence: MinConfidence(out.Metadata),
	}
	if t, ok := slugs[slug]; ok {
		res.DocumentType = &t
	}

	ev := c.logger.Info().Str("slug", slug)
	if res.DocumentType != nil {
		ev = ev.Str("type", res.DocumentType.Name)
	}
	if res.Confidence != nil {
		ev = ev.Float64("confidence", *res.Confidence)
	}
	ev.Bool("lenient", e.Lenient()).Msg("document categorized")
	return res
}

func errorText(err error) string {
	var apiErr *extend.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, extend.ErrRetriesExhausted):
		return errRetriesExhausted
	default:
		return err.Error()
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into an enum value: "Lab Report" -> "lab_report".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonSlugChars.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// BuildSlugMap keys document types by the slug of their name. The first type
// wins on collision; types without a name are ignored. The slugs are also
// returned in first-seen order.
func BuildSlugMap(types []documents.Type) (map[string]documents.Type, []string) {
	m := make(map[string]documents.Type, len(types))
	var order []string
	for _, t := range types {
		if t.Name == "" {
			continue
		}
		slug := Slugify(t.Name)
		if _, exists := m[slug]; exists {
			continue
		}
		m[slug] = t
		order = append(order, slug)
	}
	return m, order
}

// BuildExtractionSchema builds the classification schema with slugs as the
// document_type enum.
func BuildExtractionSchema(slugs []string) *extend.ExtractConfig {
	docType := extend.Property{Type: "string", Description: "Document type"}
	if len(slugs) > 0 {
		docType.Enum = slugs
	}
	nullable := func(desc string) extend.Property {
		return extend.Property{Type: extend.NullableString, Description: desc}
	}
	props := map[string]extend.Property{
		"document_type":           docType,
		"loinc_codes":             nullable("LOINC codes"),
		"snomed_codes":            nullable("SNOMED codes"),
		"test_names":              nullable("Test names"),
		"study_names":             nullable("Study names"),
		"modality":                nullable(""),
		"body_part":               nullable(""),
		"patient_id":              nullable(""),
		"patient_first_name":      nullable(""),
		"patient_last_name":       nullable(""),
		"patient_name":            nullable(""),
		"date_of_birth":           {Type: extend.NullableString, ExtendType: "date"},
		"practitioner_npi":        nullable(""),
		"practitioner_first_name": nullable(""),
		"practitioner_last_name":  nullable(""),
		"practitioner_name":       nullable(""),
	}
	return extend.NewExtractConfig(props, "document_type")
}

// MinConfidence returns the lowest numeric ocrConfidence across the field
// metadata, or nil when no field carries one.
func MinConfidence(metadata map[string]any) *float64 {
	var min *float64
	for _, v := range metadata {
		field, ok := v.(map[string]any)
		if !ok {
			continue
		}
		c, ok := field["ocrConfidence"].(float64)
		if !ok {
			continue
		}
		if min == nil || c < *min {
			cc := c
			min = &cc
		}
	}
	return min
}
