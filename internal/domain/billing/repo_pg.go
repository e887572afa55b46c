package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pm-health/patient-service/internal/platform/db"
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
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusActive
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_account (id, patient_id, name, email, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.PatientID, a.Name, a.Email, a.Status,
	).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("billing account create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID uuid.UUID) (*Account, error) {
	var a Account
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, name, email, status, created_at
		FROM billing_account WHERE patient_id = $1`, patientID,
	).Scan(&a.ID, &a.PatientID, &a.Name, &a.Email, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing account get: %w", err)
	}
	return &a, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
