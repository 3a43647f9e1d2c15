package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// FindByMRN returns every patient with the given MRN.
	FindByMRN(ctx context.Context, mrn string) ([]*Patient, error)
	// FindByName matches first and last name case-insensitively, and the
	// birth date exactly when birthDate is set.
	FindByName(ctx context.Context, first, last string, birthDate *time.Time) ([]*Patient, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	FindByNPI(ctx context.Context, npi string) ([]*Staff, error)
	FindByName(ctx context.Context, first, last string) ([]*Staff, error)
	// First returns the earliest created active staff member, or ErrNotFound.
	First(ctx context.Context) (*Staff, error)
}
