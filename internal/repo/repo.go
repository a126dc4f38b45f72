package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"festreg/internal/model"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrFormNotFound          = errors.New("form not found")
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrSheetNotFound         = errors.New("sheet not found")
	ErrCapacityReached       = errors.New("event has reached maximum capacity")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	// ErrRegistrationIDTaken signals a collision on the generated
	// registration identifier. Retryable: callers regenerate and insert again.
	ErrRegistrationIDTaken = errors.New("registration id already taken")
)

// Postgres unique-constraint names used to classify insert conflicts.
const (
	constraintEventEmail     = "registrations_event_id_email_key"
	constraintRegistrationID = "registrations_registration_id_key"
)

type RegistrationFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	PublishEventTx(ctx context.Context, eventID int64, sheet *model.SheetRecord) error

	GetActiveForm(ctx context.Context, eventID int64) (*model.Form, error)
	CreateForm(ctx context.Context, f *model.Form) (int64, error)
	UpdateFormFields(ctx context.Context, formID int64, fields []model.FormField) error
	DeactivateForm(ctx context.Context, formID int64) error
	SetEventHasForm(ctx context.Context, eventID int64) error

	CreateRegistrationTx(ctx context.Context, reg *model.Registration) (int64, error)
	GetRegistrationByEventEmail(ctx context.Context, eventID int64, email string) (*model.Registration, error)
	GetRegistrationByRegID(ctx context.Context, registrationID string) (*model.Registration, error)
	GetRegistrationsByEvent(ctx context.Context, eventID int64) ([]model.Registration, error)
	ListRegistrations(ctx context.Context, eventID int64, f RegistrationFilter) ([]model.Registration, int, error)
	CountRegistrations(ctx context.Context, eventID int64) (int, error)
	UpdateRegistrationStatus(ctx context.Context, registrationID string, status string, note *string) (*model.Registration, error)
	ClaimSheetRow(ctx context.Context, id int64, row int) (int, error)
	MarkRegistrationSynced(ctx context.Context, id int64, at time.Time) error

	GetSheetByEvent(ctx context.Context, eventID int64) (*model.SheetRecord, error)
	MarkSheetSynced(ctx context.Context, eventID int64) error
	MarkSheetFailed(ctx context.Context, eventID int64, syncErr string) error
	SetSheetSyncStatus(ctx context.Context, eventID int64, status string) error

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	query := `
		INSERT INTO events (name, description, category, event_date, event_time, venue,
		                    registration_deadline, max_capacity, requires_approval, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	row := r.db.QueryRowContext(ctx, query,
		e.Name, e.Description, e.Category, e.EventDate, e.EventTime, e.Venue,
		e.Deadline, e.MaxCapacity, e.RequiresApproval, model.EventDraft,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

const eventColumns = `id, name, description, category, event_date, event_time, venue,
	registration_deadline, max_capacity, requires_approval, status, has_form,
	total_registrations, published_at, closed_at, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.Category, &e.EventDate, &e.EventTime, &e.Venue,
		&e.Deadline, &e.MaxCapacity, &e.RequiresApproval, &e.Status, &e.HasForm,
		&e.TotalRegistrations, &e.PublishedAt, &e.ClosedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (r *repository) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// PublishEventTx flips a draft event to published and records the freshly
// provisioned sheet in the same transaction, so a published event always
// has its mirror bookkeeping in place.
func (r *repository) PublishEventTx(ctx context.Context, eventID int64, sheet *model.SheetRecord) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET status = $1, published_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, model.EventPublished, eventID, model.EventDraft)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrEventNotFound
	}

	mapping, err := json.Marshal(sheet.ColumnMapping)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to marshal column mapping: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheets (event_id, sheet_id, sheet_url, column_mapping, last_sync_status)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, sheet.SheetID, sheet.SheetURL, mapping, model.SyncPending); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert sheet record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *repository) GetActiveForm(ctx context.Context, eventID int64) (*model.Form, error) {
	query := `
		SELECT id, event_id, fields, is_active, created_at, updated_at
		FROM forms
		WHERE event_id = $1 AND is_active = TRUE
	`
	row := r.db.QueryRowContext(ctx, query, eventID)

	var f model.Form
	var fields []byte
	if err := row.Scan(&f.ID, &f.EventID, &fields, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	if err := json.Unmarshal(fields, &f.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode form fields: %w", err)
	}
	return &f, nil
}

func (r *repository) CreateForm(ctx context.Context, f *model.Form) (int64, error) {
	fields, err := json.Marshal(f.Fields)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal form fields: %w", err)
	}

	// Writes with RETURNING go through the master directly; the pooled
	// helper may route the query to a read replica.
	var id int64
	err = r.db.Master.QueryRowContext(ctx, `
		INSERT INTO forms (event_id, fields, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING id
	`, f.EventID, fields).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert form: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateFormFields(ctx context.Context, formID int64, fields []model.FormField) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE forms SET fields = $1, updated_at = NOW() WHERE id = $2
	`, raw, formID)
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}
	return nil
}

func (r *repository) DeactivateForm(ctx context.Context, formID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE forms SET is_active = FALSE, updated_at = NOW() WHERE id = $1
	`, formID)
	if err != nil {
		return fmt.Errorf("failed to deactivate form: %w", err)
	}
	return nil
}

func (r *repository) SetEventHasForm(ctx context.Context, eventID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE events SET has_form = TRUE, updated_at = NOW() WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event form: %w", err)
	}
	return nil
}

// CreateRegistrationTx inserts a registration and bumps the event's
// aggregate counter in one transaction. The counter update carries the
// capacity guard, and the unique indexes on (event_id, email) and
// registration_id are the authoritative duplicate/collision guards:
// concurrent submissions race on the database, not in this process.
func (r *repository) CreateRegistrationTx(ctx context.Context, reg *model.Registration) (int64, error) {
	formData, err := json.Marshal(reg.FormData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal form data: %w", err)
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET total_registrations = total_registrations + 1, updated_at = NOW()
		WHERE id = $1
		  AND (max_capacity IS NULL OR total_registrations < max_capacity)
	`, reg.EventID)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to increment registration count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return 0, ErrCapacityReached
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO registrations (registration_id, event_id, form_data, email, name, phone, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, reg.RegistrationID, reg.EventID, formData, reg.Email, reg.Name, reg.Phone, reg.Status, reg.SubmittedAt).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return 0, classifyInsertError(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func classifyInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case constraintEventEmail:
			return ErrDuplicateRegistration
		case constraintRegistrationID:
			return ErrRegistrationIDTaken
		}
	}
	return fmt.Errorf("failed to create registration: %w", err)
}

const registrationColumns = `id, registration_id, event_id, form_data, email, name, phone,
	status, status_note, approved_at, rejected_at, sheet_row, last_synced_at,
	submitted_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var reg model.Registration
	var formData []byte
	err := row.Scan(
		&reg.ID, &reg.RegistrationID, &reg.EventID, &formData, &reg.Email, &reg.Name, &reg.Phone,
		&reg.Status, &reg.StatusNote, &reg.ApprovedAt, &reg.RejectedAt, &reg.SheetRow, &reg.LastSyncedAt,
		&reg.SubmittedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(formData, &reg.FormData); err != nil {
		return nil, fmt.Errorf("failed to decode form data: %w", err)
	}
	return &reg, nil
}

func (r *repository) GetRegistrationByEventEmail(ctx context.Context, eventID int64, email string) (*model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND email = $2`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, eventID, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return reg, nil
}

func (r *repository) GetRegistrationByRegID(ctx context.Context, registrationID string) (*model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE registration_id = $1`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, registrationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return reg, nil
}

// GetRegistrationsByEvent returns the event's registrations in submission
// order, the order batch syncs walk the sheet in.
func (r *repository) GetRegistrationsByEvent(ctx context.Context, eventID int64) ([]model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 ORDER BY submitted_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

func (r *repository) ListRegistrations(ctx context.Context, eventID int64, f RegistrationFilter) ([]model.Registration, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}

	where := `WHERE event_id = $1`
	args := []any{eventID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where += fmt.Sprintf(` AND (email ILIKE $%d OR name ILIKE $%d OR phone ILIKE $%d OR registration_id ILIKE $%d)`, n, n, n, n)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count registrations: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`SELECT %s FROM registrations %s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		registrationColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, total, rows.Err()
}

func (r *repository) CountRegistrations(ctx context.Context, eventID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations WHERE event_id = $1
	`, eventID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

func (r *repository) UpdateRegistrationStatus(ctx context.Context, registrationID string, status string, note *string) (*model.Registration, error) {
	stampCol := "approved_at"
	if status == model.RegistrationRejected {
		stampCol = "rejected_at"
	}
	query := fmt.Sprintf(`
		UPDATE registrations
		SET status = $1, status_note = $2, %s = NOW(), updated_at = NOW()
		WHERE registration_id = $3
		RETURNING `+registrationColumns, stampCol)

	reg, err := scanRegistration(r.db.Master.QueryRowContext(ctx, query, status, note, registrationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to update registration status: %w", err)
	}
	return reg, nil
}

// ClaimSheetRow assigns a sheet row pointer if none is set yet and
// returns the pointer that won. COALESCE keeps the assignment idempotent
// when a batch sync and a single sync race over the same registration.
func (r *repository) ClaimSheetRow(ctx context.Context, id int64, row int) (int, error) {
	var claimed int
	err := r.db.Master.QueryRowContext(ctx, `
		UPDATE registrations
		SET sheet_row = COALESCE(sheet_row, $1), updated_at = NOW()
		WHERE id = $2
		RETURNING sheet_row
	`, row, id).Scan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRegistrationNotFound
		}
		return 0, fmt.Errorf("failed to claim sheet row: %w", err)
	}
	return claimed, nil
}

func (r *repository) MarkRegistrationSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET last_synced_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to stamp registration sync time: %w", err)
	}
	return nil
}

func (r *repository) GetSheetByEvent(ctx context.Context, eventID int64) (*model.SheetRecord, error) {
	query := `
		SELECT id, event_id, sheet_id, sheet_url, column_mapping, last_sync_status,
		       last_sync_error, last_synced_at, total_rows_synced, failed_sync_count,
		       created_at, updated_at
		FROM sheets
		WHERE event_id = $1
	`
	row := r.db.QueryRowContext(ctx, query, eventID)

	var s model.SheetRecord
	var mapping []byte
	err := row.Scan(
		&s.ID, &s.EventID, &s.SheetID, &s.SheetURL, &mapping, &s.LastSyncStatus,
		&s.LastSyncError, &s.LastSyncedAt, &s.TotalRowsSynced, &s.FailedSyncCount,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSheetNotFound
		}
		return nil, fmt.Errorf("failed to get sheet record: %w", err)
	}
	if err := json.Unmarshal(mapping, &s.ColumnMapping); err != nil {
		return nil, fmt.Errorf("failed to decode column mapping: %w", err)
	}
	return &s, nil
}

// MarkSheetSynced and MarkSheetFailed use SQL-side increments so outcome
// counters stay consistent when syncs of different registrations land
// at the same time. The last error message is deliberately left in place
// on success; it always reflects the most recent failure.
func (r *repository) MarkSheetSynced(ctx context.Context, eventID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sheets
		SET last_sync_status = $1, last_synced_at = NOW(),
		    total_rows_synced = total_rows_synced + 1, updated_at = NOW()
		WHERE event_id = $2
	`, model.SyncSuccess, eventID)
	if err != nil {
		return fmt.Errorf("failed to record sheet sync success: %w", err)
	}
	return nil
}

func (r *repository) MarkSheetFailed(ctx context.Context, eventID int64, syncErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sheets
		SET last_sync_status = $1, last_sync_error = $2,
		    failed_sync_count = failed_sync_count + 1, updated_at = NOW()
		WHERE event_id = $3
	`, model.SyncFailed, syncErr, eventID)
	if err != nil {
		return fmt.Errorf("failed to record sheet sync failure: %w", err)
	}
	return nil
}

// SetSheetSyncStatus rewrites only the sync status, used by batch syncs
// to settle the record on "failed" when any row in the batch failed.
func (r *repository) SetSheetSyncStatus(ctx context.Context, eventID int64, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sheets SET last_sync_status = $1, updated_at = NOW() WHERE event_id = $2
	`, status, eventID)
	if err != nil {
		return fmt.Errorf("failed to set sheet sync status: %w", err)
	}
	return nil
}
