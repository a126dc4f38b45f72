package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"festreg/internal/model"
	"festreg/internal/repo"
)

var regIDPattern = regexp.MustCompile(`^REG-\d{4}-\d{6}$`)

func newTestService(store repo.Repository) *service {
	logger := zerolog.Nop()
	return &service{repo: store, log: &logger}
}

type eventOpts struct {
	status           string
	deadline         time.Time
	maxCapacity      *int
	requiresApproval bool
}

// setupEvent creates an event with an active registration form holding
// an email, a name, and a phone field.
func setupEvent(t *testing.T, store *repo.Memory, opts eventOpts) int64 {
	t.Helper()

	if opts.status == "" {
		opts.status = model.EventPublished
	}
	if opts.deadline.IsZero() {
		opts.deadline = time.Now().Add(24 * time.Hour)
	}

	eventID, err := store.CreateEvent(context.Background(), &model.Event{
		Name:             "Hack Night",
		Status:           opts.status,
		Deadline:         opts.deadline,
		MaxCapacity:      opts.maxCapacity,
		RequiresApproval: opts.requiresApproval,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	_, err = store.CreateForm(context.Background(), &model.Form{
		EventID: eventID,
		Fields: []model.FormField{
			{ID: "email", Type: model.FieldEmail, Label: "Email Address", Required: true, Order: 0},
			{ID: "name", Type: model.FieldText, Label: "Participant Name", Required: true, Order: 1},
			{ID: "phone", Type: model.FieldPhone, Label: "Contact Phone", Order: 2},
		},
	})
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
	return eventID
}

func submission(email string) map[string]any {
	return map[string]any{
		"email": email,
		"name":  "Ada Lovelace",
		"phone": "+14155551234",
	}
}

func TestAdmitSuccess(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	svc := newTestService(store)

	reg, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	if !regIDPattern.MatchString(reg.RegistrationID) {
		t.Errorf("registration id %q does not match REG-<year>-<6 digits>", reg.RegistrationID)
	}
	if reg.Status != model.RegistrationApproved {
		t.Errorf("expected auto-approval, got %q", reg.Status)
	}
	if reg.Email != "ada@example.com" {
		t.Errorf("derived email = %q", reg.Email)
	}
	if reg.Name == nil || *reg.Name != "Ada Lovelace" {
		t.Errorf("derived name = %v", reg.Name)
	}
	if reg.Phone == nil || *reg.Phone != "+14155551234" {
		t.Errorf("derived phone = %v", reg.Phone)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 1 {
		t.Errorf("counter = %d, want 1", event.TotalRegistrations)
	}
}

func TestAdmitEmailNormalized(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	svc := newTestService(store)

	reg, err := svc.admit(context.Background(), eventID, submission("  Ada@Example.COM "))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if reg.Email != "ada@example.com" {
		t.Errorf("email not normalized: %q", reg.Email)
	}
}

func TestAdmitEventNotFound(t *testing.T) {
	svc := newTestService(repo.NewMemory())

	_, err := svc.admit(context.Background(), 42, submission("ada@example.com"))
	if !errors.Is(err, repo.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestAdmitNotPublished(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{status: model.EventDraft})
	svc := newTestService(store)

	_, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if !errors.Is(err, ErrRegistrationClosed) {
		t.Errorf("expected ErrRegistrationClosed, got %v", err)
	}
}

func TestAdmitDeadlinePassed(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{deadline: time.Now().Add(-time.Hour)})
	svc := newTestService(store)

	_, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if !errors.Is(err, ErrDeadlinePassed) {
		t.Errorf("expected ErrDeadlinePassed, got %v", err)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 0 {
		t.Errorf("counter changed on rejected submission: %d", event.TotalRegistrations)
	}
}

func TestAdmitCapacityReached(t *testing.T) {
	store := repo.NewMemory()
	capacity := 1
	eventID := setupEvent(t, store, eventOpts{maxCapacity: &capacity})
	svc := newTestService(store)

	if _, err := svc.admit(context.Background(), eventID, submission("first@example.com")); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := svc.admit(context.Background(), eventID, submission("second@example.com"))
	if !errors.Is(err, repo.ErrCapacityReached) {
		t.Errorf("expected ErrCapacityReached, got %v", err)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 1 {
		t.Errorf("counter = %d, want 1", event.TotalRegistrations)
	}
}

func TestAdmitValidationErrorsSurfaceFieldMap(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	svc := newTestService(store)

	_, err := svc.admit(context.Background(), eventID, map[string]any{
		"email": "not-an-email",
	})

	var fieldErrs *FieldErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	if len(fieldErrs.Fields) != 2 {
		t.Errorf("expected errors on email and name, got %v", fieldErrs.Fields)
	}
	if fieldErrs.Fields["name"] != "Participant Name is required" {
		t.Errorf("name error = %q", fieldErrs.Fields["name"])
	}
}

func TestAdmitEmailRequiredWithoutEmailField(t *testing.T) {
	store := repo.NewMemory()
	eventID, err := store.CreateEvent(context.Background(), &model.Event{
		Name:     "No Email Event",
		Status:   model.EventPublished,
		Deadline: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateForm(context.Background(), &model.Form{
		EventID: eventID,
		Fields:  []model.FormField{{ID: "nick", Type: model.FieldText, Label: "Nickname"}},
	}); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(store)

	_, err = svc.admit(context.Background(), eventID, map[string]any{"nick": "gopher"})
	if !errors.Is(err, ErrEmailRequired) {
		t.Errorf("expected ErrEmailRequired, got %v", err)
	}
}

func TestAdmitDuplicateEmail(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	svc := newTestService(store)

	if _, err := svc.admit(context.Background(), eventID, submission("ada@example.com")); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if !errors.Is(err, repo.ErrDuplicateRegistration) {
		t.Errorf("expected ErrDuplicateRegistration, got %v", err)
	}
}

func TestAdmitPendingWhenApprovalRequired(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{requiresApproval: true})
	svc := newTestService(store)

	reg, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if reg.Status != model.RegistrationPending {
		t.Errorf("status = %q, want pending", reg.Status)
	}
}

// TestAdmitConcurrentDuplicates submits the same email from many
// goroutines; the storage-level uniqueness guard must let exactly one
// through no matter how the pre-checks interleave.
func TestAdmitConcurrentDuplicates(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	svc := newTestService(store)

	const attempts = 10
	var successCount, duplicateCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.admit(context.Background(), eventID, submission("race@example.com"))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, repo.ErrDuplicateRegistration):
				duplicateCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successCount.Load())
	}
	if duplicateCount.Load() != attempts-1 {
		t.Errorf("duplicates = %d, want %d", duplicateCount.Load(), attempts-1)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 1 {
		t.Errorf("counter = %d, want 1", event.TotalRegistrations)
	}
}

// TestAdmitConcurrentCapacity races distinct emails against a small
// capacity; the conditional increment must never overshoot it.
func TestAdmitConcurrentCapacity(t *testing.T) {
	store := repo.NewMemory()
	capacity := 3
	eventID := setupEvent(t, store, eventOpts{maxCapacity: &capacity})
	svc := newTestService(store)

	const attempts = 12
	var successCount, fullCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			email := fmt.Sprintf("user%d@example.com", n)
			_, err := svc.admit(context.Background(), eventID, submission(email))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, repo.ErrCapacityReached):
				fullCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != int32(capacity) {
		t.Errorf("successes = %d, want %d", successCount.Load(), capacity)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != capacity {
		t.Errorf("counter = %d, want %d", event.TotalRegistrations, capacity)
	}
}

// collidingRepo fails the first N inserts with the id-taken conflict,
// as if every generated identifier already existed.
type collidingRepo struct {
	*repo.Memory
	collisions int
	inserts    int
}

func (r *collidingRepo) CreateRegistrationTx(ctx context.Context, reg *model.Registration) (int64, error) {
	r.inserts++
	if r.inserts <= r.collisions {
		return 0, repo.ErrRegistrationIDTaken
	}
	return r.Memory.CreateRegistrationTx(ctx, reg)
}

func TestAdmitRegeneratesIDOnCollision(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	colliding := &collidingRepo{Memory: store, collisions: maxIDAttempts - 1}
	svc := newTestService(colliding)

	reg, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if err != nil {
		t.Fatalf("admit after collisions: %v", err)
	}
	if colliding.inserts != maxIDAttempts {
		t.Errorf("inserts = %d, want %d", colliding.inserts, maxIDAttempts)
	}
	if !regIDPattern.MatchString(reg.RegistrationID) {
		t.Errorf("regenerated id %q does not match pattern", reg.RegistrationID)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 1 {
		t.Errorf("counter = %d, want 1", event.TotalRegistrations)
	}
}

func TestAdmitGivesUpAfterRepeatedCollisions(t *testing.T) {
	store := repo.NewMemory()
	eventID := setupEvent(t, store, eventOpts{})
	colliding := &collidingRepo{Memory: store, collisions: maxIDAttempts + 1}
	svc := newTestService(colliding)

	_, err := svc.admit(context.Background(), eventID, submission("ada@example.com"))
	if !errors.Is(err, repo.ErrRegistrationIDTaken) {
		t.Fatalf("expected ErrRegistrationIDTaken, got %v", err)
	}
	if colliding.inserts != maxIDAttempts {
		t.Errorf("inserts = %d, want the attempt limit %d", colliding.inserts, maxIDAttempts)
	}

	event, _ := store.GetEventByID(context.Background(), eventID)
	if event.TotalRegistrations != 0 {
		t.Errorf("counter = %d, want 0 after exhausted attempts", event.TotalRegistrations)
	}
}

func TestRegistrationIDFormat(t *testing.T) {
	now := time.Now().Year()
	for i := 0; i < 100; i++ {
		id := newRegistrationID()
		if !regIDPattern.MatchString(id) {
			t.Fatalf("id %q does not match pattern", id)
		}
		if id[4:8] != fmt.Sprintf("%d", now) {
			t.Fatalf("id %q does not embed the current year", id)
		}
	}
}

func TestExtractQuickAccessFieldsFirstMatchWins(t *testing.T) {
	fields := []model.FormField{
		{ID: "e1", Type: model.FieldEmail, Label: "Primary Email"},
		{ID: "e2", Type: model.FieldEmail, Label: "Backup Email"},
		{ID: "t", Type: model.FieldText, Label: "Team Name"},
		{ID: "n", Type: model.FieldText, Label: "Member Name"},
		{ID: "p", Type: model.FieldPhone, Label: "Phone"},
	}
	data := map[string]any{
		"e1": "first@example.com",
		"e2": "second@example.com",
		"t":  "The Gophers",
		"n":  "Ada",
		"p":  "+14155551234",
	}

	email, name, phone := extractQuickAccessFields(data, fields)
	if email != "first@example.com" {
		t.Errorf("email = %q", email)
	}
	if name == nil || *name != "The Gophers" {
		t.Errorf("name = %v, want first label match (team)", name)
	}
	if phone == nil || *phone != "+14155551234" {
		t.Errorf("phone = %v", phone)
	}
}
