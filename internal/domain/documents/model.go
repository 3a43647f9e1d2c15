package documents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is an inbound document awaiting processing.
type Document struct {
	ID             string `json:"id"`
	ContentURL     string `json:"content_url"`
	AvailableTypes []Type `json:"available_document_types,omitempty"`
}

// Validate checks that the document can be processed at all.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(d.ContentURL) == "" {
		return fmt.Errorf("document content_url is required")
	}
	return nil
}

// Type is a locally configured document type the classifier may choose from.
type Type struct {
	Key          string `json:"key" yaml:"key"`
	Name         string `json:"name" yaml:"name"`
	ReportType   string `json:"report_type" yaml:"report_type"`
	TemplateType string `json:"template_type,omitempty" yaml:"template_type,omitempty"`
}

type typesFile struct {
	DocumentTypes []Type `yaml:"document_types"`
}

// LoadTypes reads document type definitions from a YAML file of the form
//
//	document_types:
//	  - key: lab
//	    name: Lab Report
//	    report_type: LAB
//	    template_type: LabReportTemplate
func LoadTypes(path string) ([]Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document types: %w", err)
	}
	return ParseTypes(data)
}

// ParseTypes decodes YAML document type definitions.
func ParseTypes(data []byte) ([]Type, error) {
	var f typesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse document types: %w", err)
	}
	return f.DocumentTypes, nil
}
