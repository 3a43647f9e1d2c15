// Package effects defines the descriptors the processor hands back to the host.
// Effects describe changes; the host applies them.
package effects

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/domain/documents"
)

// SourceProtocol identifies this processor on every effect it emits.
const SourceProtocol = "extend_ai_document_processor"

const (
	ColorConfidence   = "#00AA00"
	ColorError        = "#F44336"
	ColorAutoAssigned = "#9C27B0"
)

const (
	TypeCategorizeDocument     = "CATEGORIZE_DOCUMENT"
	TypeLinkDocumentToPatient  = "LINK_DOCUMENT_TO_PATIENT"
	TypeAssignDocumentReviewer = "ASSIGN_DOCUMENT_REVIEWER"
	TypePrefillDocumentFields  = "PREFILL_DOCUMENT_FIELDS"
)

const (
	PriorityHigh               = "high"
	ReviewModeNotRequired      = "review_not_required"
	autoAssignedAnnotationText = "Auto-assigned"
)

// Effect is implemented by every descriptor.
type Effect interface {
	EffectType() string
}

// Annotation is a short badge shown next to an applied effect.
type Annotation struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// ConfidenceAnnotation renders a confidence in [0,1] as an "AI NN%" badge.
func ConfidenceAnnotation(confidence float64) (Annotation, bool) {
	if confidence < 0 || confidence > 1 || math.IsNaN(confidence) {
		return Annotation{}, false
	}
	pct := int(math.RoundToEven(confidence * 100))
	return Annotation{Text: fmt.Sprintf("AI %d%%", pct), Color: ColorConfidence}, true
}

// BuildAnnotations prefers a confidence badge and otherwise shows errText.
func BuildAnnotations(confidence *float64, errText string) []Annotation {
	if confidence != nil {
		if a, ok := ConfidenceAnnotation(*confidence); ok {
			return []Annotation{a}
		}
	}
	if errText != "" {
		return []Annotation{{Text: errText, Color: ColorError}}
	}
	return []Annotation{}
}

// DocumentTypeRef is the resolved document type on a categorize effect.
type DocumentTypeRef struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	ReportType   string  `json:"report_type"`
	TemplateType *string `json:"template_type"`
}

type CategorizeDocument struct {
	DocumentID     string          `json:"document_id"`
	DocumentType   DocumentTypeRef `json:"document_type"`
	Annotations    []Annotation    `json:"annotations"`
	SourceProtocol string          `json:"source_protocol"`
}

func (*CategorizeDocument) EffectType() string { return TypeCategorizeDocument }

// NewCategorizeDocument requires the type's key, name and report type.
func NewCategorizeDocument(docID string, t documents.Type, confidence *float64, patientErr string) (*CategorizeDocument, error) {
	var missing []string
	if t.Key == "" {
		missing = append(missing, "key")
	}
	if t.Name == "" {
		missing = append(missing, "name")
	}
	if t.ReportType == "" {
		missing = append(missing, "report_type")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("document type missing %s", strings.Join(missing, ", "))
	}
	if docID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	ref := DocumentTypeRef{Key: t.Key, Name: t.Name, ReportType: t.ReportType}
	if t.TemplateType != "" {
		tt := t.TemplateType
		ref.TemplateType = &tt
	}
	return &CategorizeDocument{
		DocumentID:     docID,
		DocumentType:   ref,
		Annotations:    BuildAnnotations(confidence, patientErr),
		SourceProtocol: SourceProtocol,
	}, nil
}

type LinkDocumentToPatient struct {
	DocumentID     string       `json:"document_id"`
	PatientKey     string       `json:"patient_key"`
	Annotations    []Annotation `json:"annotations"`
	SourceProtocol string       `json:"source_protocol"`
}

func (*LinkDocumentToPatient) EffectType() string { return TypeLinkDocumentToPatient }

func NewLinkDocumentToPatient(docID string, patientID uuid.UUID, confidence *float64) (*LinkDocumentToPatient, error) {
	if docID == "" || patientID == uuid.Nil {
		return nil, fmt.Errorf("document id and patient key are required")
	}
	return &LinkDocumentToPatient{
		DocumentID:     docID,
		PatientKey:     patientID.String(),
		Annotations:    BuildAnnotations(confidence, ""),
		SourceProtocol: SourceProtocol,
	}, nil
}

type AssignDocumentReviewer struct {
	DocumentID     string       `json:"document_id"`
	ReviewerID     string       `json:"reviewer_id"`
	Priority       string       `json:"priority"`
	ReviewMode     string       `json:"review_mode"`
	Annotations    []Annotation `json:"annotations"`
	SourceProtocol string       `json:"source_protocol"`
}

func (*AssignDocumentReviewer) EffectType() string { return TypeAssignDocumentReviewer }

// NewAssignDocumentReviewer marks auto-assigned reviewers instead of showing a
// confidence badge.
func NewAssignDocumentReviewer(docID string, reviewerID uuid.UUID, autoAssigned bool, confidence *float64, patientErr string) (*AssignDocumentReviewer, error) {
	if docID == "" || reviewerID == uuid.Nil {
		return nil, fmt.Errorf("document id and reviewer id are required")
	}
	annotations := BuildAnnotations(confidence, patientErr)
	if autoAssigned {
		annotations = []Annotation{{Text: autoAssignedAnnotationText, Color: ColorAutoAssigned}}
	}
	return &AssignDocumentReviewer{
		DocumentID:     docID,
		ReviewerID:     reviewerID.String(),
		Priority:       PriorityHigh,
		ReviewMode:     ReviewModeNotRequired,
		Annotations:    annotations,
		SourceProtocol: SourceProtocol,
	}, nil
}

// PrefillField is one extracted template value.
type PrefillField struct {
	Value       string       `json:"value"`
	Unit        string       `json:"unit,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// PrefillTemplate carries the extracted values for one report template,
// keyed by field key.
type PrefillTemplate struct {
	TemplateID   uuid.UUID               `json:"template_id"`
	TemplateName string                  `json:"template_name"`
	Fields       map[string]PrefillField `json:"fields"`
}

type PrefillDocumentFields struct {
	DocumentID  string            `json:"document_id"`
	Templates   []PrefillTemplate `json:"templates"`
	Annotations []Annotation      `json:"annotations"`
}

func (*PrefillDocumentFields) EffectType() string { return TypePrefillDocumentFields }

func NewPrefillDocumentFields(docID string, templates []PrefillTemplate) (*PrefillDocumentFields, error) {
	if docID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one template is required")
	}
	return &PrefillDocumentFields{
		DocumentID:  docID,
		Templates:   templates,
		Annotations: []Annotation{},
	}, nil
}

// Envelope is the wire form of an effect.
type Envelope struct {
	Type    string `json:"type"`
	Payload Effect `json:"payload"`
}

// Wrap converts effects to envelopes, skipping nil entries.
func Wrap(list []Effect) []Envelope {
	out := make([]Envelope, 0, len(list))
	for _, e := range list {
		if e == nil {
			continue
		}
		out = append(out, Envelope{Type: e.EffectType(), Payload: e})
	}
	return out
}
