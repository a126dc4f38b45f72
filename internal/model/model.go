package model

import "time"

// Event lifecycle statuses.
const (
	EventDraft     = "draft"
	EventPublished = "published"
	EventClosed    = "closed"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

// Registration statuses.
const (
	RegistrationPending  = "pending"
	RegistrationApproved = "approved"
	RegistrationRejected = "rejected"
)

// Sheet sync outcomes.
const (
	SyncPending = "pending"
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// Form field kinds. The set is closed: validation dispatches on the tag
// and unknown tags are rejected at form-save time.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldEmail    = "email"
	FieldPhone    = "phone"
	FieldDropdown = "dropdown"
	FieldCheckbox = "checkbox"
	FieldRadio    = "radio"
	FieldDate     = "date"
	FieldTime     = "time"
	FieldImage    = "image"
)

type Event struct {
	ID                 int64      `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Description        string     `db:"description" json:"description"`
	Category           string     `db:"category" json:"category"`
	EventDate          time.Time  `db:"event_date" json:"event_date"`
	EventTime          string     `db:"event_time" json:"event_time"`
	Venue              string     `db:"venue" json:"venue"`
	Deadline           time.Time  `db:"registration_deadline" json:"registration_deadline"`
	MaxCapacity        *int       `db:"max_capacity" json:"max_capacity,omitempty"`
	RequiresApproval   bool       `db:"requires_approval" json:"requires_approval"`
	Status             string     `db:"status" json:"status"`
	HasForm            bool       `db:"has_form" json:"has_form"`
	TotalRegistrations int        `db:"total_registrations" json:"total_registrations"`
	PublishedAt        *time.Time `db:"published_at" json:"published_at,omitempty"`
	ClosedAt           *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// FieldConstraints are the optional validation rules a coordinator can
// attach to a field in the form builder.
type FieldConstraints struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

type FormField struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Label        string            `json:"label"`
	Placeholder  string            `json:"placeholder,omitempty"`
	HelpText     string            `json:"helpText,omitempty"`
	Required     bool              `json:"required"`
	Validation   *FieldConstraints `json:"validation,omitempty"`
	Options      []string          `json:"options,omitempty"`
	DefaultValue string            `json:"defaultValue,omitempty"`
	Order        int               `json:"order"`
}

// Form is one version of an event's registration form. At most one form
// per event is active; past versions are kept so old registrations stay
// interpretable.
type Form struct {
	ID        int64       `db:"id" json:"id"`
	EventID   int64       `db:"event_id" json:"event_id"`
	Fields    []FormField `db:"fields" json:"fields"`
	IsActive  bool        `db:"is_active" json:"is_active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

type Registration struct {
	ID             int64          `db:"id" json:"id"`
	RegistrationID string         `db:"registration_id" json:"registration_id"`
	EventID        int64          `db:"event_id" json:"event_id"`
	FormData       map[string]any `db:"form_data" json:"form_data"`
	Email          string         `db:"email" json:"email"`
	Name           *string        `db:"name" json:"name,omitempty"`
	Phone          *string        `db:"phone" json:"phone,omitempty"`
	Status         string         `db:"status" json:"status"`
	StatusNote     *string        `db:"status_note" json:"status_note,omitempty"`
	ApprovedAt     *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt     *time.Time     `db:"rejected_at" json:"rejected_at,omitempty"`
	SheetRow       *int           `db:"sheet_row" json:"sheet_row,omitempty"`
	LastSyncedAt   *time.Time     `db:"last_synced_at" json:"last_synced_at,omitempty"`
	SubmittedAt    time.Time      `db:"submitted_at" json:"submitted_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// SheetRecord tracks the external spreadsheet mirror for one event:
// which sheet it is, how field ids map to columns, and how the last
// sync attempts went.
type SheetRecord struct {
	ID              int64             `db:"id" json:"id"`
	EventID         int64             `db:"event_id" json:"event_id"`
	SheetID         string            `db:"sheet_id" json:"sheet_id"`
	SheetURL        string            `db:"sheet_url" json:"sheet_url"`
	ColumnMapping   map[string]string `db:"column_mapping" json:"column_mapping"`
	LastSyncStatus  string            `db:"last_sync_status" json:"last_sync_status"`
	LastSyncError   *string           `db:"last_sync_error" json:"last_sync_error,omitempty"`
	LastSyncedAt    *time.Time        `db:"last_synced_at" json:"last_synced_at,omitempty"`
	TotalRowsSynced int               `db:"total_rows_synced" json:"total_rows_synced"`
	FailedSyncCount int               `db:"failed_sync_count" json:"failed_sync_count"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}
