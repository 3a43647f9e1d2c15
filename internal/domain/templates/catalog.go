package templates

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is a YAML template catalog:
//
//	templates:
//	  - kind: LabReportTemplate
//	    name: Basic Metabolic Panel
//	    search_keywords: bmp chem7
//	    fields:
//	      - label: Sodium
//	        code: 2951-2
//	        code_system: LOINC
//	        units: mmol/L
type Catalog struct {
	Templates []CatalogTemplate `yaml:"templates"`
}

type CatalogTemplate struct {
	Kind           string         `yaml:"kind"`
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	SearchKeywords string         `yaml:"search_keywords"`
	Active         *bool          `yaml:"active"`
	Fields         []CatalogField `yaml:"fields"`
}

type CatalogField struct {
	Label      string `yaml:"label"`
	Code       string `yaml:"code"`
	CodeSystem string `yaml:"code_system"`
	Units      string `yaml:"units"`
	Sequence   *int   `yaml:"sequence"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, nil
}

// Seed stores every catalog template with its fields and returns how many
// templates were created. Templates are active unless stated otherwise and
// fields without a sequence take their position in the list.
func (s *Service) Seed(ctx context.Context, c *Catalog) (int, error) {
	created := 0
	for i, ct := range c.Templates {
		kind, err := ParseKind(ct.Kind)
		if err != nil {
			return created, fmt.Errorf("template %d (%s): %w", i, ct.Name, err)
		}
		t := &Template{
			Kind:           kind,
			Name:           ct.Name,
			Description:    ct.Description,
			SearchKeywords: ct.SearchKeywords,
			Active:         ct.Active == nil || *ct.Active,
		}
		fields := make([]*Field, 0, len(ct.Fields))
		for j, cf := range ct.Fields {
			seq := j + 1
			if cf.Sequence != nil {
				seq = *cf.Sequence
			}
			fields = append(fields, &Field{
				Sequence:   seq,
				Label:      cf.Label,
				Code:       cf.Code,
				CodeSystem: cf.CodeSystem,
				Units:      cf.Units,
			})
		}
		if err := s.CreateTemplate(ctx, t, fields); err != nil {
			return created, fmt.Errorf("template %d (%s): %w", i, ct.Name, err)
		}
		created++
	}
	s.logger.Info().Int("templates", created).Msg("catalog seeded")
	return created, nil
}
