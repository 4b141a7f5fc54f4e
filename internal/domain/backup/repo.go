package backup

import "context"

type Repository interface {
	Create(ctx context.Context, r *Record) error
	// List returns records newest first.
	List(ctx context.Context, status string, limit, offset int) ([]*Record, int, error)
}
