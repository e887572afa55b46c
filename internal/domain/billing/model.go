// Package billing implements the billing gateway: a small RPC service that
// provisions one billing account per patient.
package billing

import (
	"time"

	"github.com/google/uuid"
)

// StatusActive is the only status provisioned accounts start in.
const StatusActive = "ACTIVE"

// Account maps to the billing_account table, one row per patient.
type Account struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccountRequest is the CreateAccount RPC input.
type AccountRequest struct {
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// AccountResponse is the CreateAccount RPC output. No account identifier is
// exposed to callers.
type AccountResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
