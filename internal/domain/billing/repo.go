package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("billing account not found")
	ErrDuplicateAccount = errors.New("billing account already exists")
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByPatientID(ctx context.Context, patientID uuid.UUID) (*Account, error)
}
