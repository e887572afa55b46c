package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pm-health/patient-service/internal/platform/events"
)

// mockRepo is an in-memory Repository enforcing the same uniqueness and
// not-found semantics as the postgres implementation.
type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient

	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *mockRepo) Create(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.patients {
		if existing.Email == p.Email {
			return ErrEmailConflict
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.patients {
		if id != p.ID && existing.Email == p.Email {
			return ErrEmailConflict
		}
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Patient, 0, len(m.patients))
	for _, p := range m.patients {
		cp := *p
		out = append(out, &cp)
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

type mockBilling struct {
	mu       sync.Mutex
	requests []BillingAccountRequest
	err      error
}

func (m *mockBilling) CreateAccount(ctx context.Context, req BillingAccountRequest) (*BillingAccountResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &BillingAccountResponse{Status: "ACTIVE", Message: "account created"}, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, subject string, event any) error {
	return fmt.Errorf("broker unreachable")
}

func (failingPublisher) Close() error { return nil }

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func newTestService(repo Repository, pub events.Publisher, billing BillingClient) *Service {
	svc := NewService(repo, pub, billing, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validCreate() CreateRequest {
	return CreateRequest{
		Name:        "John Doe",
		Email:       "john@example.com",
		Address:     "123 Main St",
		DateOfBirth: "1990-01-01",
	}
}

func TestCreate_ReturnsRecordMatchingInput(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if p.Name != "John Doe" || p.Email != "john@example.com" || p.Address != "123 Main St" {
		t.Errorf("fields do not match input: %+v", p)
	}
	if p.DateOfBirth.String() != "1990-01-01" {
		t.Errorf("unexpected dateOfBirth %s", p.DateOfBirth)
	}
	if p.RegisteredDate.String() != "2025-03-15" {
		t.Errorf("expected registeredDate defaulted to current date, got %s", p.RegisteredDate)
	}
}

func TestCreate_ExplicitRegisteredDate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	req := validCreate()
	req.RegisteredDate = "2025-01-02"
	p, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.RegisteredDate.String() != "2025-01-02" {
		t.Errorf("expected registeredDate 2025-01-02, got %s", p.RegisteredDate)
	}
}

func TestCreate_IDsAreNovel(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		req := validCreate()
		req.Email = fmt.Sprintf("user%d@example.com", i)
		p, err := svc.Create(context.Background(), req)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[p.ID] {
			t.Fatalf("id %s issued twice", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "" }, "name"},
		{"missing email", func(r *CreateRequest) { r.Email = "" }, "email"},
		{"malformed email", func(r *CreateRequest) { r.Email = "not-an-email" }, "email"},
		{"missing address", func(r *CreateRequest) { r.Address = "" }, "address"},
		{"missing dateOfBirth", func(r *CreateRequest) { r.DateOfBirth = "" }, "dateOfBirth"},
		{"malformed dateOfBirth", func(r *CreateRequest) { r.DateOfBirth = "01/01/1990" }, "dateOfBirth"},
		{"future dateOfBirth", func(r *CreateRequest) { r.DateOfBirth = "2030-01-01" }, "dateOfBirth"},
		{"malformed registeredDate", func(r *CreateRequest) { r.RegisteredDate = "soon" }, "registeredDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			pub := events.NewMemoryPublisher()
			svc := newTestService(repo, pub, nil)

			req := validCreate()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, v := range verr.Violations {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected violation on %s, got %v", tt.field, verr.Violations)
			}
			if len(repo.patients) != 0 {
				t.Error("expected no write before validation passes")
			}
			if len(pub.Messages()) != 0 {
				t.Error("expected no event before validation passes")
			}
		})
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	if _, err := svc.Create(context.Background(), validCreate()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	req := validCreate()
	req.Name = "Other Person"
	_, err := svc.Create(context.Background(), req)
	if !errors.Is(err, ErrEmailConflict) {
		t.Fatalf("expected ErrEmailConflict, got %v", err)
	}
	if len(repo.patients) != 1 {
		t.Errorf("expected exactly one stored record, got %d", len(repo.patients))
	}
}

func TestCreate_PublishesCreatedEvent(t *testing.T) {
	repo := newMockRepo()
	pub := events.NewMemoryPublisher()
	svc := newTestService(repo, pub, nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(msgs))
	}
	if msgs[0].Subject != SubjectCreated {
		t.Errorf("expected subject %s, got %s", SubjectCreated, msgs[0].Subject)
	}
	var ev Event
	if err := json.Unmarshal(msgs[0].Data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.EventType != EventCreated {
		t.Errorf("expected CREATED, got %s", ev.EventType)
	}
	if ev.PatientID != p.ID.String() || ev.Name != p.Name || ev.Email != p.Email {
		t.Errorf("event snapshot does not match record: %+v", ev)
	}
	if ev.EventID == "" {
		t.Error("expected event id")
	}
}

func TestCreate_ProvisionsBillingAccount(t *testing.T) {
	repo := newMockRepo()
	billing := &mockBilling{}
	svc := newTestService(repo, events.NewMemoryPublisher(), billing)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(billing.requests) != 1 {
		t.Fatalf("expected one billing request, got %d", len(billing.requests))
	}
	got := billing.requests[0]
	if got.PatientID != p.ID.String() || got.Name != p.Name || got.Email != p.Email {
		t.Errorf("billing request does not match record: %+v", got)
	}
}

func TestCreate_BillingUnreachableStillSucceeds(t *testing.T) {
	repo := newMockRepo()
	billing := &mockBilling{err: fmt.Errorf("connection refused")}
	svc := newTestService(repo, events.NewMemoryPublisher(), billing)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("expected success despite billing failure, got %v", err)
	}

	// The committed record is visible to a subsequent read.
	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get after create: %v", err)
	}
	if got.Email != p.Email {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestCreate_PublishFailureStillSucceeds(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, failingPublisher{}, nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("expected success despite publish failure, got %v", err)
	}
	if _, err := svc.Get(context.Background(), p.ID); err != nil {
		t.Fatalf("record should be committed: %v", err)
	}
}

func TestCreate_StoreFailurePublishesNothing(t *testing.T) {
	repo := newMockRepo()
	repo.createErr = &StoreError{Op: "create", Err: fmt.Errorf("connection reset")}
	pub := events.NewMemoryPublisher()
	billing := &mockBilling{}
	svc := newTestService(repo, pub, billing)

	_, err := svc.Create(context.Background(), validCreate())
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Error("no event may be published when the primary write fails")
	}
	if len(billing.requests) != 0 {
		t.Error("no billing call may happen when the primary write fails")
	}
}

func TestUpdate_Success(t *testing.T) {
	repo := newMockRepo()
	pub := events.NewMemoryPublisher()
	svc := newTestService(repo, pub, nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Address: "456 Oak Ave",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Jane Doe" || updated.Email != "jane@example.com" {
		t.Errorf("unexpected record %+v", updated)
	}
	if updated.ID != p.ID {
		t.Error("identifier must be immutable")
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected CREATED and UPDATED events, got %d", len(msgs))
	}
	if msgs[1].Subject != SubjectUpdated {
		t.Errorf("expected subject %s, got %s", SubjectUpdated, msgs[1].Subject)
	}
}

func TestUpdate_RefreshesUpdateTimestamp(t *testing.T) {
	repo := newMockRepo()
	pub := events.NewMemoryPublisher()
	svc := newTestService(repo, pub, nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(time.Millisecond)

	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Address: "456 Oak Ave",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.After(p.UpdatedAt) {
		t.Errorf("returned record carries stale updated timestamp: %s", updated.UpdatedAt)
	}

	stored, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !updated.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Errorf("returned timestamp %s does not match stored %s", updated.UpdatedAt, stored.UpdatedAt)
	}
}

func TestUpdate_SelfEmailCollisionIsNotConflict(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Re-submitting the record's own email must succeed.
	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{
		Name:    "Jane Doe",
		Email:   "john@example.com",
		Address: "123 Main St",
	})
	if err != nil {
		t.Fatalf("expected self-collision to succeed, got %v", err)
	}
	if updated.Name != "Jane Doe" {
		t.Errorf("unexpected record %+v", updated)
	}
}

func TestUpdate_EmailConflictWithOtherRecord(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	if _, err := svc.Create(context.Background(), validCreate()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	req := validCreate()
	req.Email = "jane@example.com"
	p2, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	_, err = svc.Update(context.Background(), p2.ID, UpdateRequest{
		Name:    "Jane Doe",
		Email:   "john@example.com",
		Address: "123 Main St",
	})
	if !errors.Is(err, ErrEmailConflict) {
		t.Fatalf("expected ErrEmailConflict, got %v", err)
	}
}

func TestUpdate_DeletedIdentifier(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = svc.Update(context.Background(), p.ID, UpdateRequest{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Address: "123 Main St",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_SecondCallIsNotFound(t *testing.T) {
	repo := newMockRepo()
	pub := events.NewMemoryPublisher()
	svc := newTestService(repo, pub, nil)

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := svc.Delete(context.Background(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected CREATED and DELETED events, got %d", len(msgs))
	}
	var ev Event
	if err := json.Unmarshal(msgs[1].Data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != EventDeleted || ev.PatientID != p.ID.String() {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(newMockRepo(), events.NewMemoryPublisher(), nil)
	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, events.NewMemoryPublisher(), nil)

	for i := 0; i < 3; i++ {
		req := validCreate()
		req.Email = fmt.Sprintf("user%d@example.com", i)
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	patients, total, err := svc.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(patients) != 3 {
		t.Errorf("expected 3 records, got total=%d len=%d", total, len(patients))
	}
}
