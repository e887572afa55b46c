package billing

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pm-health/patient-service/internal/domain/patient"
)

// Client calls the billing gateway over gRPC. It satisfies the patient
// service's BillingClient boundary.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient connects to the gateway address. Every call is bounded by the
// given timeout so a stalled gateway cannot hold a request worker forever.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) CreateAccount(ctx context.Context, req patient.BillingAccountRequest) (*patient.BillingAccountResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in := AccountRequest{PatientID: req.PatientID, Name: req.Name, Email: req.Email}
	out := new(AccountResponse)
	if err := c.conn.Invoke(ctx, createAccountMethod, &in, out); err != nil {
		return nil, fmt.Errorf("billing create account: %w", err)
	}
	return &patient.BillingAccountResponse{Status: out.Status, Message: out.Message}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
