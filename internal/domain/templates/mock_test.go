package templates

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/docproc/internal/platform/extend"
)

// -- Mock Repository --

type mockRepo struct {
	templates map[uuid.UUID]*Template
	order     []uuid.UUID
	fields    []*Field
	err       error
	fieldsErr map[uuid.UUID]error
}

func newMockRepo() *mockRepo {
	return &mockRepo{templates: make(map[uuid.UUID]*Template)}
}

// add stores a template with one field per code, in order.
func (m *mockRepo) add(kind Kind, name, keywords string, codes ...string) *Template {
	t := &Template{Kind: kind, Name: name, SearchKeywords: keywords, Active: true}
	m.CreateTemplate(context.Background(), t)
	system := "LOINC"
	if kind != KindLab {
		system = "SNOMED CT"
	}
	for i, c := range codes {
		m.AddField(context.Background(), &Field{
			TemplateID: t.ID,
			Sequence:   i + 1,
			Label:      "Field " + c,
			Code:       c,
			CodeSystem: system,
		})
	}
	return t
}

func (m *mockRepo) FieldsByCodes(_ context.Context, kind Kind, codes []string) ([]*Field, error) {
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	var out []*Field
	for _, f := range m.fields {
		t := m.templates[f.TemplateID]
		if t.Kind != kind || !want[f.Code] {
			continue
		}
		if filter := kind.CodeSystemFilter(); filter != "" && !strings.Contains(strings.ToLower(f.CodeSystem), filter) {
			continue
		}
		cp := *f
		cp.Template = t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) SearchTemplates(_ context.Context, kind Kind, keywords []string, limit int) ([]*Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*Template
	for _, id := range m.order {
		t := m.templates[id]
		if t.Kind != kind || !t.Active {
			continue
		}
		hay := strings.ToLower(t.Name + " " + t.Description + " " + t.SearchKeywords)
		for _, kw := range keywords {
			if strings.Contains(hay, strings.ToLower(kw)) {
				out = append(out, t)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepo) FieldsForTemplate(_ context.Context, templateID uuid.UUID) ([]*Field, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := m.fieldsErr[templateID]; err != nil {
		return nil, err
	}
	var out []*Field
	for _, f := range m.fields {
		if f.TemplateID == templateID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockRepo) GetTemplate(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockRepo) ListTemplates(_ context.Context, kind Kind) ([]*Template, error) {
	var out []*Template
	for _, id := range m.order {
		if t := m.templates[id]; t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateTemplate(_ context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	m.templates[t.ID] = t
	m.order = append(m.order, t.ID)
	return nil
}

func (m *mockRepo) AddField(_ context.Context, f *Field) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	m.fields = append(m.fields, f)
	return nil
}

// -- Mock Extractor --

type mockExtractor struct {
	calls   []*extend.ExtractConfig
	respond func(call int, cfg *extend.ExtractConfig) (*extend.Output, error)
}

func (m *mockExtractor) Extract(_ context.Context, _ string, cfg *extend.ExtractConfig) (*extend.Output, error) {
	m.calls = append(m.calls, cfg)
	if m.respond == nil {
		return echoSchema(cfg), nil
	}
	return m.respond(len(m.calls)-1, cfg)
}

// echoSchema answers every schema property with a value derived from its key.
func echoSchema(cfg *extend.ExtractConfig) *extend.Output {
	value := make(map[string]any, len(cfg.Schema.Properties))
	for key := range cfg.Schema.Properties {
		value[key] = "value-" + key
	}
	return &extend.Output{Value: value}
}
