package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the record store boundary. Implementations map storage
// failures to ErrNotFound, ErrEmailConflict, or StoreError.
type Repository interface {
	// InTx runs fn inside a transaction. The write is committed or rolled
	// back deterministically before any event publication.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)

	// Update persists the mutable fields and writes the store's refreshed
	// update timestamp back into p.
	Update(ctx context.Context, p *Patient) error

	Delete(ctx context.Context, id uuid.UUID) error

	// List returns a page of records and the total count. The slice is
	// never nil, so an empty page serializes as a JSON array.
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
