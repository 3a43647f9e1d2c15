package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/docproc/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, first_name, last_name, birth_date, active, created_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, birth_date, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Active,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *patientRepoPG) FindByMRN(ctx context.Context, mrn string) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient WHERE mrn = $1 ORDER BY created_at, id`, mrn)
}

func (r *patientRepoPG) FindByName(ctx context.Context, first, last string, birthDate *time.Time) ([]*Patient, error) {
	if birthDate != nil {
		return r.query(ctx, `SELECT `+patientCols+` FROM patient
			WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2) AND birth_date = $3
			ORDER BY created_at, id`, first, last, *birthDate)
	}
	return r.query(ctx, `SELECT `+patientCols+` FROM patient
		WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
		ORDER BY created_at, id`, first, last)
}

func (r *patientRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("patient query: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Staff Repository --

type staffRepoPG struct {
	pool *pgxpool.Pool
}

func NewStaffRepo(pool *pgxpool.Pool) StaffRepository {
	return &staffRepoPG{pool: pool}
}

func (r *staffRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const staffCols = `id, npi, first_name, last_name, active, created_at`

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff (id, npi, first_name, last_name, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		s.ID, s.NPI, s.FirstName, s.LastName, s.Active,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("staff create: %w", err)
	}
	return nil
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	s, err := scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *staffRepoPG) FindByNPI(ctx context.Context, npi string) ([]*Staff, error) {
	return r.query(ctx, `SELECT `+staffCols+` FROM staff WHERE npi = $1 ORDER BY created_at, id`, npi)
}

func (r *staffRepoPG) FindByName(ctx context.Context, first, last string) ([]*Staff, error) {
	return r.query(ctx, `SELECT `+staffCols+` FROM staff
		WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
		ORDER BY created_at, id`, first, last)
}

func (r *staffRepoPG) First(ctx context.Context) (*Staff, error) {
	s, err := scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff
		WHERE active ORDER BY created_at, id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *staffRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Staff, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("staff query: %w", err)
	}
	defer rows.Close()

	var staff []*Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	if err := row.Scan(&s.ID, &s.NPI, &s.FirstName, &s.LastName, &s.Active, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
