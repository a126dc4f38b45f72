package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"festreg/internal/form"
	"festreg/internal/model"
	"festreg/internal/repo"
)

var (
	ErrRegistrationClosed = errors.New("event is not open for registration")
	ErrDeadlinePassed     = errors.New("registration deadline has passed")
	ErrEmailRequired      = errors.New("email is required")
)

// FieldErrors carries the validator's per-field messages so the HTTP
// layer can hand them to the caller verbatim, distinct from event-level
// business failures.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	return fmt.Sprintf("form validation failed for %d field(s)", len(e.Fields))
}

// Generated registration ids are random, not guaranteed unique; the
// unique index on registration_id is the real guard and a collision just
// means another attempt with a fresh id.
const maxIDAttempts = 3

func newRegistrationID() string {
	return fmt.Sprintf("REG-%d-%06d", time.Now().Year(), rand.IntN(1000000))
}

// admit runs the admission pipeline for one submission: eligibility
// checks in order, form validation, quick-access derivation, duplicate
// pre-check, then the transactional insert. The storage-level unique
// constraint stays authoritative for duplicates; the pre-check only
// gives the common case a friendlier, earlier answer.
func (s *service) admit(ctx context.Context, eventID int64, formData map[string]any) (*model.Registration, error) {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.EventPublished {
		return nil, ErrRegistrationClosed
	}
	if time.Now().After(event.Deadline) {
		return nil, ErrDeadlinePassed
	}
	if event.MaxCapacity != nil && event.TotalRegistrations >= *event.MaxCapacity {
		return nil, repo.ErrCapacityReached
	}

	activeForm, err := s.repo.GetActiveForm(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if errs := form.Validate(formData, activeForm.Fields); len(errs) > 0 {
		return nil, &FieldErrors{Fields: errs}
	}

	email, name, phone := extractQuickAccessFields(formData, activeForm.Fields)
	if email == "" {
		return nil, ErrEmailRequired
	}

	if _, err := s.repo.GetRegistrationByEventEmail(ctx, eventID, email); err == nil {
		return nil, repo.ErrDuplicateRegistration
	} else if !errors.Is(err, repo.ErrRegistrationNotFound) {
		return nil, err
	}

	status := model.RegistrationApproved
	if event.RequiresApproval {
		status = model.RegistrationPending
	}

	reg := &model.Registration{
		EventID:     eventID,
		FormData:    formData,
		Email:       email,
		Name:        name,
		Phone:       phone,
		Status:      status,
		SubmittedAt: time.Now(),
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		reg.RegistrationID = newRegistrationID()
		id, err := s.repo.CreateRegistrationTx(ctx, reg)
		if errors.Is(err, repo.ErrRegistrationIDTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reg.ID = id
		reg.UpdatedAt = reg.SubmittedAt
		return reg, nil
	}
	return nil, fmt.Errorf("could not allocate registration id after %d attempts: %w", maxIDAttempts, repo.ErrRegistrationIDTaken)
}

// extractQuickAccessFields pulls email/name/phone out of the raw
// submission so later lookups don't have to re-parse the whole form.
// First match in schema order wins per category.
func extractQuickAccessFields(formData map[string]any, fields []model.FormField) (email string, name, phone *string) {
	for _, field := range fields {
		value, ok := formData[field.ID].(string)
		if !ok || value == "" {
			continue
		}

		if field.Type == model.FieldEmail && email == "" {
			email = strings.ToLower(strings.TrimSpace(value))
		}

		label := strings.ToLower(field.Label)
		if name == nil && (strings.Contains(label, "name") || strings.Contains(label, "team")) {
			v := value
			name = &v
		}

		if field.Type == model.FieldPhone && phone == nil {
			v := value
			phone = &v
		}
	}
	return email, name, phone
}
