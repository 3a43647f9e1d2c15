package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/docproc/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const templateCols = `t.id, t.template_type, t.name, t.description, t.search_keywords, t.active, t.created_at`

const fieldCols = `f.id, f.template_id, f.sequence, f.label, f.code, f.code_system, f.units`

func (r *repoPG) FieldsByCodes(ctx context.Context, kind Kind, codes []string) ([]*Field, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	query := `SELECT ` + fieldCols + `, ` + templateCols + `
		FROM report_template_field f
		JOIN report_template t ON t.id = f.template_id
		WHERE t.template_type = $1 AND f.code = ANY($2)`
	args := []interface{}{kind.String(), codes}
	if filter := kind.CodeSystemFilter(); filter != "" {
		query += ` AND f.code_system ILIKE $3`
		args = append(args, "%"+filter+"%")
	}
	query += ` ORDER BY t.created_at, t.id, f.sequence`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fields by codes: %w", err)
	}
	defer rows.Close()

	templates := make(map[uuid.UUID]*Template)
	var fields []*Field
	for rows.Next() {
		var f Field
		var t Template
		var kindName string
		if err := rows.Scan(
			&f.ID, &f.TemplateID, &f.Sequence, &f.Label, &f.Code, &f.CodeSystem, &f.Units,
			&t.ID, &kindName, &t.Name, &t.Description, &t.SearchKeywords, &t.Active, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		if existing, ok := templates[t.ID]; ok {
			f.Template = existing
		} else {
			t.Kind = kind
			templates[t.ID] = &t
			f.Template = &t
		}
		fields = append(fields, &f)
	}
	return fields, rows.Err()
}

func (r *repoPG) SearchTemplates(ctx context.Context, kind Kind, keywords []string, limit int) ([]*Template, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		patterns = append(patterns, "%"+kw+"%")
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+`
		FROM report_template t
		WHERE t.template_type = $1 AND t.active
		  AND (t.name ILIKE ANY($2) OR t.description ILIKE ANY($2) OR t.search_keywords ILIKE ANY($2))
		ORDER BY t.name, t.id
		LIMIT $3`, kind.String(), patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

func (r *repoPG) FieldsForTemplate(ctx context.Context, templateID uuid.UUID) ([]*Field, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+fieldCols+`
		FROM report_template_field f
		WHERE f.template_id = $1
		ORDER BY f.sequence, f.id`, templateID)
	if err != nil {
		return nil, fmt.Errorf("template fields: %w", err)
	}
	defer rows.Close()

	var fields []*Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.ID, &f.TemplateID, &f.Sequence, &f.Label, &f.Code, &f.CodeSystem, &f.Units); err != nil {
			return nil, err
		}
		fields = append(fields, &f)
	}
	return fields, rows.Err()
}

func (r *repoPG) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM report_template t WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *repoPG) ListTemplates(ctx context.Context, kind Kind) ([]*Template, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+`
		FROM report_template t WHERE t.template_type = $1 ORDER BY t.name, t.id`, kind.String())
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

func (r *repoPG) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_template (id, template_type, name, description, search_keywords, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		t.ID, t.Kind.String(), t.Name, t.Description, t.SearchKeywords, t.Active,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *repoPG) AddField(ctx context.Context, f *Field) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO report_template_field (id, template_id, sequence, label, code, code_system, units)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TemplateID, f.Sequence, f.Label, f.Code, f.CodeSystem, f.Units,
	)
	if err != nil {
		return fmt.Errorf("add template field: %w", err)
	}
	return nil
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var kindName string
	if err := row.Scan(&t.ID, &kindName, &t.Name, &t.Description, &t.SearchKeywords, &t.Active, &t.CreatedAt); err != nil {
		return nil, err
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	t.Kind = kind
	return &t, nil
}

func scanTemplates(rows pgx.Rows) ([]*Template, error) {
	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
