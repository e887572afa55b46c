package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service provisions billing accounts. Provisioning is idempotent per
// patient: a repeated request for the same patient reports the existing
// account instead of failing, so upstream retries stay safe.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) CreateAccount(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid patient id")
	}
	if req.Name == "" || req.Email == "" {
		return nil, status.Error(codes.InvalidArgument, "name and email are required")
	}

	if existing, err := s.repo.GetByPatientID(ctx, patientID); err == nil {
		s.logger.Info().
			Str("patient_id", req.PatientID).
			Str("account_id", existing.ID.String()).
			Msg("billing account already provisioned")
		return &AccountResponse{Status: existing.Status, Message: "billing account already exists"}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, status.Error(codes.Internal, "billing store unavailable")
	}

	a := &Account{PatientID: patientID, Name: req.Name, Email: req.Email, Status: StatusActive}
	if err := s.repo.Create(ctx, a); err != nil {
		// A concurrent request won the race; report the account as existing.
		if errors.Is(err, ErrDuplicateAccount) {
			return &AccountResponse{Status: StatusActive, Message: "billing account already exists"}, nil
		}
		s.logger.Error().Err(err).Str("patient_id", req.PatientID).Msg("billing account create failed")
		return nil, status.Error(codes.Internal, "billing store unavailable")
	}

	s.logger.Info().
		Str("patient_id", req.PatientID).
		Str("account_id", a.ID.String()).
		Msg("billing account created")
	return &AccountResponse{Status: a.Status, Message: "billing account created"}, nil
}
