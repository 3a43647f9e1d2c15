package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/domain/extraction"
)

// Kind is a report template family. It decides which code list of an
// extraction is matched and which coding system template fields must carry.
type Kind int

const (
	KindLab Kind = iota + 1
	KindImaging
	KindSpecialty
)

var kindNames = map[Kind]string{
	KindLab:       "LabReportTemplate",
	KindImaging:   "ImagingReportTemplate",
	KindSpecialty: "SpecialtyReportTemplate",
}

// ParseKind resolves a template type tag such as "LabReportTemplate".
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown template type %q", s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CodeSystem is the extraction code list matched against this kind.
func (k Kind) CodeSystem() extraction.CodeSystem {
	if k == KindLab {
		return extraction.LOINC
	}
	return extraction.SNOMED
}

// CodeSystemFilter is a case-insensitive substring template fields must have
// in their code system to be considered, or "" for no restriction.
func (k Kind) CodeSystemFilter() string {
	if k == KindImaging {
		return "snomed"
	}
	return ""
}

// Template is a report layout with an ordered list of fields.
type Template struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Kind           Kind      `db:"kind" json:"-"`
	Name           string    `db:"name" json:"name"`
	Description    string    `db:"description" json:"description,omitempty"`
	SearchKeywords string    `db:"search_keywords" json:"search_keywords,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Field is one template field, optionally tagged with a medical code.
type Field struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TemplateID uuid.UUID `db:"template_id" json:"template_id"`
	Sequence   int       `db:"sequence" json:"sequence"`
	Label      string    `db:"label" json:"label"`
	Code       string    `db:"code" json:"code,omitempty"`
	CodeSystem string    `db:"code_system" json:"code_system,omitempty"`
	Units      string    `db:"units" json:"units,omitempty"`

	// Template is populated by FieldsByCodes.
	Template *Template `db:"-" json:"-"`
}

// Candidate is a scored template match.
type Candidate struct {
	TemplateID uuid.UUID `json:"template_id"`
	Name       string    `json:"name"`
	Score      float64   `json:"score"`
	Codes      []string  `json:"codes"`
}
