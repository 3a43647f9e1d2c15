package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// Dialect selects the bind parameter style.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processing_run (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	document_type TEXT,
	confidence REAL,
	patient_matched INTEGER NOT NULL DEFAULT 0,
	reviewer_auto_assigned INTEGER NOT NULL DEFAULT 0,
	templates_prefilled INTEGER NOT NULL DEFAULT 0,
	effect_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_processing_run_document ON processing_run(document_id);
`

const runColumns = `id, document_id, status, document_type, confidence, patient_matched,
	reviewer_auto_assigned, templates_prefilled, effect_count, error, started_at, finished_at`

// SQLRepository stores runs through database/sql. Postgres connections come
// from the pgx stdlib adapter and get their schema from migrations; SQLite
// databases are initialised on open.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

// OpenSQLite opens the ledger at dsn and creates the schema if needed.
func OpenSQLite(ctx context.Context, dsn string) (*SQLRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return NewSQLRepository(db, DialectSQLite), nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders to $N for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLRepository) Create(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO processing_run (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.DocumentID, string(run.Status), run.DocumentType, run.Confidence,
		run.PatientMatched, run.ReviewerAutoAssigned, run.TemplatesPrefilled, run.EffectCount,
		run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+runColumns+` FROM processing_run WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (r *SQLRepository) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_run`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+runColumns+` FROM processing_run
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out, err := collect(rows)
	return out, total, err
}

func (r *SQLRepository) ListByDocument(ctx context.Context, documentID string) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+runColumns+` FROM processing_run
		WHERE document_id = ? ORDER BY started_at DESC, id DESC`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list runs for document: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run        Run
		status     string
		docType    sql.NullString
		confidence sql.NullFloat64
		finishedAt sql.NullTime
	)
	err := s.Scan(&run.ID, &run.DocumentID, &status, &docType, &confidence,
		&run.PatientMatched, &run.ReviewerAutoAssigned, &run.TemplatesPrefilled, &run.EffectCount,
		&run.Error, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if docType.Valid {
		run.DocumentType = &docType.String
	}
	if confidence.Valid {
		run.Confidence = &confidence.Float64
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	run.StartedAt = run.StartedAt.UTC()
	return &run, nil
}

func collect(rows *sql.Rows) ([]*Run, error) {
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
