package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"

	"festreg/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	FormNotFound          = "FORM_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RegistrationClosed    = "REGISTRATION_CLOSED"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	ValidationError       = "VALIDATION_ERROR"
	SheetNotFound         = "SHEET_NOT_FOUND"
)

type CreateEventRequest struct {
	Name             string    `json:"name" validate:"required,min=3,max=200"`
	Description      string    `json:"description" validate:"required,min=10,max=5000"`
	Category         string    `json:"category" validate:"required,category"`
	EventDate        time.Time `json:"event_date" validate:"required"`
	EventTime        string    `json:"event_time" validate:"required"`
	Venue            string    `json:"venue" validate:"required,max=200"`
	Deadline         time.Time `json:"registration_deadline" validate:"required,future"`
	MaxCapacity      *int      `json:"max_capacity" validate:"omitempty,gt=0"`
	RequiresApproval bool      `json:"requires_approval"`
}

// SubmitRegistrationRequest is the submission shape consumed from the
// HTTP layer: a free-form field-id -> value mapping defined by the
// event's active form.
type SubmitRegistrationRequest struct {
	FormData map[string]any `json:"formData" validate:"required,min=1"`
}

type SubmitRegistrationResponse struct {
	RegistrationID string    `json:"registrationId"`
	EventID        int64     `json:"eventId"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

type UpsertFormRequest struct {
	Fields []model.FormField `json:"fields" validate:"required,min=1,dive"`
}

type UpsertFormResponse struct {
	Form    *model.Form `json:"form"`
	Warning string      `json:"warning,omitempty"`
}

type UpdateRegistrationStatusRequest struct {
	Status     string `json:"status" validate:"required,oneof=approved rejected"`
	StatusNote string `json:"status_note" validate:"omitempty,max=1000"`
}

type EventInfoResponse struct {
	model.Event
	SeatsLeft *int `json:"seats_left,omitempty"`
}

type RegistrationListResponse struct {
	Registrations []model.Registration `json:"registrations"`
	Pagination    Pagination           `json:"pagination"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type BatchSyncResponse struct {
	SyncStatus string `json:"syncStatus"`
	Attempted  int    `json:"attempted"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

// SyncRegistrationMessage is the queue payload produced by admission and
// the status-update flow, consumed by the sync worker.
type SyncRegistrationMessage struct {
	EventID        int64  `json:"event_id"`
	RegistrationID string `json:"registration_id"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code    string            `json:"code"`
	Desc    string            `json:"desc"`
	Details map[string]string `json:"details,omitempty"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

// FieldErrorsResponse carries the validator's per-field messages so the
// form UI can render them next to the offending inputs.
func FieldErrorsResponse(c *ginext.Context, details map[string]string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code:    ValidationError,
			Desc:    "Please check your form inputs",
			Details: details,
		},
	})
}

func BusinessRuleError(c *ginext.Context, code, desc string) {
	c.JSON(403, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func EventNotFoundError(c *ginext.Context) {
	NotFoundError(c, EventNotFound, "Event not found")
}

func RegistrationDuplicateError(c *ginext.Context) {
	BusinessRuleError(c, RegistrationDuplicate, "You have already registered for this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
