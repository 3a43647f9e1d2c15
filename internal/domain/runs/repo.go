package runs

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("run not found")

// Repository stores processing runs. List returns runs newest first along
// with the total count.
type Repository interface {
	Create(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit, offset int) ([]*Run, int, error)
	ListByDocument(ctx context.Context, documentID string) ([]*Run, error)
}
