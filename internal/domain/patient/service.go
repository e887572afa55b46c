package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pm-health/patient-service/internal/platform/events"
)

// BillingAccountRequest asks the billing gateway to provision an account for
// a newly created record.
type BillingAccountRequest struct {
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// BillingAccountResponse reports the gateway outcome. No account identifier
// comes back; provisioning is fire-and-forget from this service's viewpoint.
type BillingAccountResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BillingClient is the synchronous RPC boundary to the billing gateway.
type BillingClient interface {
	CreateAccount(ctx context.Context, req BillingAccountRequest) (*BillingAccountResponse, error)
}

// Service coordinates a patient mutation across the record store, the event
// publisher, and the billing gateway.
//
// The ordering contract is commit-then-notify: the record write commits
// first, and only then are the event publish and billing call attempted.
// Their failures are logged but never unwind the committed write or change
// the caller-visible outcome. A record can therefore exist with no delivered
// event or billing account; that inconsistency window is accepted.
type Service struct {
	repo      Repository
	publisher events.Publisher
	billing   BillingClient
	logger    zerolog.Logger

	now func() time.Time
}

// NewService wires the orchestrator. billing may be nil when no gateway is
// configured; provisioning is then skipped.
func NewService(repo Repository, publisher events.Publisher, billing BillingClient, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		billing:   billing,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates input, rejects duplicate emails, commits the record, and
// then publishes a CREATED event and provisions a billing account as
// post-commit side effects.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Patient, error) {
	dob, registered, err := req.Validate(s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p := &Patient{
		Name:           req.Name,
		Email:          req.Email,
		Address:        req.Address,
		DateOfBirth:    dob,
		RegisteredDate: registered,
	}
	if err := s.repo.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, p)
	}); err != nil {
		return nil, err
	}

	// Point of no return: the record is durable, the caller sees success.
	s.notify(ctx, EventCreated, p)
	s.provisionBilling(ctx, p)

	return p, nil
}

// Update mutates name, email, and address of an existing record and
// publishes an UPDATED event after the write commits. An email collision
// with the record's own current email is not a conflict.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if other, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		if other.ID != id {
			return nil, ErrEmailConflict
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p.Name = req.Name
	p.Email = req.Email
	p.Address = req.Address
	if err := s.repo.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Update(ctx, p)
	}); err != nil {
		return nil, err
	}

	s.notify(ctx, EventUpdated, p)

	return p, nil
}

// Delete removes a record and publishes a DELETED event. Deletion is
// terminal; a second call for the same identifier reports ErrNotFound.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	}); err != nil {
		return err
	}

	s.notify(ctx, EventDeleted, p)

	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// notify publishes a lifecycle event. Publish failures are a DependencyError:
// logged for diagnosis, swallowed for the caller.
func (s *Service) notify(ctx context.Context, t EventType, p *Patient) {
	ev := NewEvent(t, p, s.now())
	if err := s.publisher.Publish(ctx, ev.Subject(), ev); err != nil {
		depErr := &DependencyError{Dependency: "event publisher", Err: err}
		s.logger.Error().Err(depErr).
			Str("patient_id", ev.PatientID).
			Str("event_type", string(t)).
			Msg("event publish failed after commit")
		return
	}
	s.logger.Info().
		Str("patient_id", ev.PatientID).
		Str("event_type", string(t)).
		Str("event_id", ev.EventID).
		Msg("event published")
}

// provisionBilling asks the gateway for a billing account. Gateway timeouts
// and errors are logged, never surfaced.
func (s *Service) provisionBilling(ctx context.Context, p *Patient) {
	if s.billing == nil {
		return
	}
	resp, err := s.billing.CreateAccount(ctx, BillingAccountRequest{
		PatientID: p.ID.String(),
		Name:      p.Name,
		Email:     p.Email,
	})
	if err != nil {
		depErr := &DependencyError{Dependency: "billing gateway", Err: err}
		s.logger.Error().Err(depErr).
			Str("patient_id", p.ID.String()).
			Msg("billing account provisioning failed after commit")
		return
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("status", resp.Status).
		Str("message", resp.Message).
		Msg("billing account provisioned")
}
