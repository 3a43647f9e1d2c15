package templates

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("template not found")

type Repository interface {
	// FieldsByCodes returns fields of templates of the given kind whose code
	// is in codes, with Template populated.
	FieldsByCodes(ctx context.Context, kind Kind, codes []string) ([]*Field, error)
	// SearchTemplates returns active templates of the given kind whose name,
	// description or search keywords contain any keyword.
	SearchTemplates(ctx context.Context, kind Kind, keywords []string, limit int) ([]*Template, error)
	// FieldsForTemplate returns a template's fields ordered by sequence.
	FieldsForTemplate(ctx context.Context, templateID uuid.UUID) ([]*Field, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, kind Kind) ([]*Template, error)
	CreateTemplate(ctx context.Context, t *Template) error
	AddField(ctx context.Context, f *Field) error
}
