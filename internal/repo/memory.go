package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"festreg/internal/model"
)

// Memory is an in-process Repository used by tests. It enforces the same
// guards the Postgres schema does, the (event, email) and registration-id
// unique constraints and the capacity-checked counter increment, under one
// mutex, so concurrent admission tests see the same winner-takes-it
// semantics the database provides.
type Memory struct {
	mu            sync.Mutex
	nextEventID   int64
	nextFormID    int64
	nextRegID     int64
	nextSheetID   int64
	events        map[int64]*model.Event
	forms         map[int64]*model.Form
	registrations map[int64]*model.Registration
	sheetRecords  map[int64]*model.SheetRecord // keyed by event id
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		events:        make(map[int64]*model.Event),
		forms:         make(map[int64]*model.Form),
		registrations: make(map[int64]*model.Registration),
		sheetRecords:  make(map[int64]*model.SheetRecord),
	}
}

func (m *Memory) CreateEvent(_ context.Context, e *model.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	cp := *e
	cp.ID = m.nextEventID
	if cp.Status == "" {
		cp.Status = model.EventDraft
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.events[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) GetEventByID(_ context.Context, id int64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetAllEvents(_ context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}

func (m *Memory) PublishEventTx(_ context.Context, eventID int64, sheet *model.SheetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID]
	if !ok || e.Status != model.EventDraft {
		return ErrEventNotFound
	}
	now := time.Now()
	e.Status = model.EventPublished
	e.PublishedAt = &now
	e.UpdatedAt = now

	m.nextSheetID++
	rec := *sheet
	rec.ID = m.nextSheetID
	rec.EventID = eventID
	rec.LastSyncStatus = model.SyncPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.sheetRecords[eventID] = &rec
	return nil
}

func (m *Memory) GetActiveForm(_ context.Context, eventID int64) (*model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.forms {
		if f.EventID == eventID && f.IsActive {
			cp := *f
			cp.Fields = append([]model.FormField(nil), f.Fields...)
			return &cp, nil
		}
	}
	return nil, ErrFormNotFound
}

func (m *Memory) CreateForm(_ context.Context, f *model.Form) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFormID++
	cp := *f
	cp.ID = m.nextFormID
	cp.IsActive = true
	cp.Fields = append([]model.FormField(nil), f.Fields...)
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.forms[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) UpdateFormFields(_ context.Context, formID int64, fields []model.FormField) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.forms[formID]
	if !ok {
		return ErrFormNotFound
	}
	f.Fields = append([]model.FormField(nil), fields...)
	f.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeactivateForm(_ context.Context, formID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.forms[formID]
	if !ok {
		return ErrFormNotFound
	}
	f.IsActive = false
	return nil
}

func (m *Memory) SetEventHasForm(_ context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	e.HasForm = true
	return nil
}

func (m *Memory) CreateRegistrationTx(_ context.Context, reg *model.Registration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[reg.EventID]
	if !ok {
		return 0, ErrEventNotFound
	}
	if e.MaxCapacity != nil && e.TotalRegistrations >= *e.MaxCapacity {
		return 0, ErrCapacityReached
	}
	for _, existing := range m.registrations {
		if existing.RegistrationID == reg.RegistrationID {
			return 0, ErrRegistrationIDTaken
		}
		if existing.EventID == reg.EventID && existing.Email == reg.Email {
			return 0, ErrDuplicateRegistration
		}
	}

	e.TotalRegistrations++
	m.nextRegID++
	cp := *reg
	cp.ID = m.nextRegID
	cp.UpdatedAt = cp.SubmittedAt
	m.registrations[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) GetRegistrationByEventEmail(_ context.Context, eventID int64, email string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.registrations {
		if reg.EventID == eventID && reg.Email == email {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

func (m *Memory) GetRegistrationByRegID(_ context.Context, registrationID string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.registrations {
		if reg.RegistrationID == registrationID {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

func (m *Memory) GetRegistrationsByEvent(_ context.Context, eventID int64) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var regs []model.Registration
	for _, reg := range m.registrations {
		if reg.EventID == eventID {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].SubmittedAt.Equal(regs[j].SubmittedAt) {
			return regs[i].ID < regs[j].ID
		}
		return regs[i].SubmittedAt.Before(regs[j].SubmittedAt)
	})
	return regs, nil
}

func (m *Memory) ListRegistrations(ctx context.Context, eventID int64, f RegistrationFilter) ([]model.Registration, int, error) {
	all, err := m.GetRegistrationsByEvent(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}

	var filtered []model.Registration
	for _, reg := range all {
		if f.Status != "" && reg.Status != f.Status {
			continue
		}
		if f.Search != "" && !matchesSearch(&reg, f.Search) {
			continue
		}
		filtered = append(filtered, reg)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].SubmittedAt.After(filtered[j].SubmittedAt) })

	total := len(filtered)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	start := (f.Page - 1) * f.Limit
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func matchesSearch(reg *model.Registration, search string) bool {
	search = strings.ToLower(search)
	if strings.Contains(strings.ToLower(reg.Email), search) ||
		strings.Contains(strings.ToLower(reg.RegistrationID), search) {
		return true
	}
	if reg.Name != nil && strings.Contains(strings.ToLower(*reg.Name), search) {
		return true
	}
	if reg.Phone != nil && strings.Contains(strings.ToLower(*reg.Phone), search) {
		return true
	}
	return false
}

func (m *Memory) CountRegistrations(_ context.Context, eventID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, reg := range m.registrations {
		if reg.EventID == eventID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) UpdateRegistrationStatus(_ context.Context, registrationID string, status string, note *string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.registrations {
		if reg.RegistrationID != registrationID {
			continue
		}
		now := time.Now()
		reg.Status = status
		reg.StatusNote = note
		if status == model.RegistrationRejected {
			reg.RejectedAt = &now
		} else {
			reg.ApprovedAt = &now
		}
		reg.UpdatedAt = now
		cp := *reg
		return &cp, nil
	}
	return nil, ErrRegistrationNotFound
}

func (m *Memory) ClaimSheetRow(_ context.Context, id int64, row int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[id]
	if !ok {
		return 0, ErrRegistrationNotFound
	}
	if reg.SheetRow == nil {
		reg.SheetRow = &row
	}
	return *reg.SheetRow, nil
}

func (m *Memory) MarkRegistrationSynced(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[id]
	if !ok {
		return ErrRegistrationNotFound
	}
	reg.LastSyncedAt = &at
	return nil
}

func (m *Memory) GetSheetByEvent(_ context.Context, eventID int64) (*model.SheetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sheetRecords[eventID]
	if !ok {
		return nil, ErrSheetNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) MarkSheetSynced(_ context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sheetRecords[eventID]
	if !ok {
		return ErrSheetNotFound
	}
	now := time.Now()
	rec.LastSyncStatus = model.SyncSuccess
	rec.LastSyncedAt = &now
	rec.TotalRowsSynced++
	rec.UpdatedAt = now
	return nil
}

func (m *Memory) MarkSheetFailed(_ context.Context, eventID int64, syncErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sheetRecords[eventID]
	if !ok {
		return ErrSheetNotFound
	}
	rec.LastSyncStatus = model.SyncFailed
	rec.LastSyncError = &syncErr
	rec.FailedSyncCount++
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetSheetSyncStatus(_ context.Context, eventID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sheetRecords[eventID]
	if !ok {
		return ErrSheetNotFound
	}
	rec.LastSyncStatus = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MigrateUp(string) error   { return nil }
func (m *Memory) MigrateDown(string) error { return nil }
