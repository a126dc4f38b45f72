package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"festreg/internal/dto"
	"festreg/internal/mailer"
	"festreg/internal/model"
	"festreg/internal/rabbit"
	"festreg/internal/repo"
	"festreg/internal/sheets"
	"festreg/internal/syncer"
	"festreg/pkg/validator"
)

type Service interface {
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	PublishEvent(ctx *ginext.Context)
	UpsertForm(ctx *ginext.Context)
	GetForm(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	ListRegistrations(ctx *ginext.Context)
	UpdateRegistrationStatus(ctx *ginext.Context)
	SyncSheet(ctx *ginext.Context)
	GetSheetStatus(ctx *ginext.Context)
}

type service struct {
	repo   repo.Repository
	log    *zerolog.Logger
	queue  rabbit.Publisher
	sheets sheets.Client
	syncer *syncer.Syncer
	mail   *mailer.Mailer
}

func NewService(repo repo.Repository, logger *zerolog.Logger, queue rabbit.Publisher, client sheets.Client, sync *syncer.Syncer, mail *mailer.Mailer) Service {
	return &service{
		repo:   repo,
		log:    logger,
		queue:  queue,
		sheets: client,
		syncer: sync,
		mail:   mail,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	event := &model.Event{
		Name:             req.Name,
		Description:      req.Description,
		Category:         req.Category,
		EventDate:        req.EventDate,
		EventTime:        req.EventTime,
		Venue:            req.Venue,
		Deadline:         req.Deadline,
		MaxCapacity:      req.MaxCapacity,
		RequiresApproval: req.RequiresApproval,
		Status:           model.EventDraft,
	}

	id, err := s.repo.CreateEvent(ctx.Request.Context(), event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}
	event.ID = id

	s.log.Info().Int64("event_id", id).Msg("event created successfully")
	dto.SuccessCreatedResponse(ctx, event)
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.repo.GetAllEvents(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list events")
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.EventInfoResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventInfo(e))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	event, err := s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	dto.SuccessResponse(ctx, eventInfo(*event))
}

// PublishEvent opens an event for registration and provisions its
// external sheet in the same step, so every published event has a mirror
// to sync into.
func (s *service) PublishEvent(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	event, err := s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	if event.Status != model.EventDraft {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Only draft events can be published")
		return
	}

	activeForm, err := s.repo.GetActiveForm(ctx.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, repo.ErrFormNotFound) {
			dto.BadResponseError(ctx, dto.FormNotFound, "Create a registration form before publishing")
			return
		}
		s.log.Error().Err(err).Msg("failed to load form for publish")
		dto.InternalServerError(ctx)
		return
	}

	provisioned, err := s.sheets.CreateSheetForEvent(ctx.Request.Context(), eventID, event.Name, activeForm.Fields)
	if err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to provision sheet")
		dto.InternalServerError(ctx)
		return
	}

	record := &model.SheetRecord{
		EventID:       eventID,
		SheetID:       provisioned.SheetID,
		SheetURL:      provisioned.SheetURL,
		ColumnMapping: provisioned.ColumnMapping,
	}
	if err := s.repo.PublishEventTx(ctx.Request.Context(), eventID, record); err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to publish event")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Int64("event_id", eventID).Str("sheet_id", provisioned.SheetID).Msg("event published")

	event, err = s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, event)
}

// UpsertForm saves the event's registration form. Once registrations
// exist the old version is kept and deactivated instead of mutated, so
// past submissions keep the shape they were validated against.
func (s *service) UpsertForm(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	var req dto.UpsertFormRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	if msg := checkFieldDefinitions(req.Fields); msg != "" {
		dto.BadResponseError(ctx, dto.FieldIncorrect, msg)
		return
	}

	if _, err := s.repo.GetEventByID(ctx.Request.Context(), eventID); err != nil {
		dto.EventNotFoundError(ctx)
		return
	}

	existing, err := s.repo.GetActiveForm(ctx.Request.Context(), eventID)
	if err != nil && !errors.Is(err, repo.ErrFormNotFound) {
		s.log.Error().Err(err).Msg("failed to load existing form")
		dto.InternalServerError(ctx)
		return
	}

	count, err := s.repo.CountRegistrations(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count registrations")
		dto.InternalServerError(ctx)
		return
	}

	newForm := &model.Form{EventID: eventID, Fields: req.Fields, IsActive: true}
	var warning string

	switch {
	case existing != nil && count > 0:
		if err := s.repo.DeactivateForm(ctx.Request.Context(), existing.ID); err != nil {
			s.log.Error().Err(err).Msg("failed to deactivate old form")
			dto.InternalServerError(ctx)
			return
		}
		id, err := s.repo.CreateForm(ctx.Request.Context(), newForm)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to create form version")
			dto.InternalServerError(ctx)
			return
		}
		newForm.ID = id
		warning = "Form updated. Changes will only apply to new registrations."

	case existing != nil:
		if err := s.repo.UpdateFormFields(ctx.Request.Context(), existing.ID, req.Fields); err != nil {
			s.log.Error().Err(err).Msg("failed to update form")
			dto.InternalServerError(ctx)
			return
		}
		newForm.ID = existing.ID

	default:
		id, err := s.repo.CreateForm(ctx.Request.Context(), newForm)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to create form")
			dto.InternalServerError(ctx)
			return
		}
		newForm.ID = id
		if err := s.repo.SetEventHasForm(ctx.Request.Context(), eventID); err != nil {
			s.log.Error().Err(err).Msg("failed to flag event form")
		}
	}

	dto.SuccessResponse(ctx, dto.UpsertFormResponse{Form: newForm, Warning: warning})
}

func (s *service) GetForm(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	activeForm, err := s.repo.GetActiveForm(ctx.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, repo.ErrFormNotFound) {
			dto.NotFoundError(ctx, dto.FormNotFound, "Registration form not found")
			return
		}
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, activeForm)
}

// Register is the admission endpoint. Event-level failures come back as
// typed business errors, per-field problems as a VALIDATION_ERROR with
// the field map, so the form UI can tell them apart.
func (s *service) Register(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	var req dto.SubmitRegistrationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	reg, err := s.admit(ctx.Request.Context(), eventID, req.FormData)
	if err != nil {
		s.respondAdmissionError(ctx, err)
		return
	}

	s.log.Info().
		Str("registration_id", reg.RegistrationID).
		Int64("event_id", eventID).
		Str("status", reg.Status).
		Msg("registration admitted")

	s.enqueueSync(eventID, reg.RegistrationID)

	if s.mail != nil {
		if err := s.mail.SendRegistrationEmail(registrationEventName(ctx, s, eventID), reg.RegistrationID, reg.Status, reg.Email); err != nil {
			s.log.Warn().Err(err).Msg("failed to send registration email")
		}
	}

	dto.SuccessCreatedResponse(ctx, dto.SubmitRegistrationResponse{
		RegistrationID: reg.RegistrationID,
		EventID:        reg.EventID,
		Status:         reg.Status,
		SubmittedAt:    reg.SubmittedAt,
	})
}

func (s *service) respondAdmissionError(ctx *ginext.Context, err error) {
	var fieldErrs *FieldErrors
	switch {
	case errors.Is(err, repo.ErrEventNotFound):
		dto.EventNotFoundError(ctx)
	case errors.Is(err, ErrRegistrationClosed):
		dto.BusinessRuleError(ctx, dto.RegistrationClosed, "Event is not open for registration")
	case errors.Is(err, ErrDeadlinePassed):
		dto.BusinessRuleError(ctx, dto.RegistrationClosed, "Registration deadline has passed")
	case errors.Is(err, repo.ErrCapacityReached):
		dto.BusinessRuleError(ctx, dto.RegistrationClosed, "Event has reached maximum capacity")
	case errors.Is(err, repo.ErrFormNotFound):
		dto.NotFoundError(ctx, dto.FormNotFound, "Registration form not found")
	case errors.As(err, &fieldErrs):
		dto.FieldErrorsResponse(ctx, fieldErrs.Fields)
	case errors.Is(err, ErrEmailRequired):
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Email is required")
	case errors.Is(err, repo.ErrDuplicateRegistration):
		dto.RegistrationDuplicateError(ctx)
	default:
		s.log.Error().Err(err).Msg("failed to admit registration")
		dto.InternalServerError(ctx)
	}
}

func (s *service) ListRegistrations(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(ctx.Query("page"))
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	filter := repo.RegistrationFilter{
		Status: ctx.Query("status"),
		Search: ctx.Query("search"),
		Page:   page,
		Limit:  limit,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}

	regs, total, err := s.repo.ListRegistrations(ctx.Request.Context(), eventID, filter)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list registrations")
		dto.InternalServerError(ctx)
		return
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	dto.SuccessResponse(ctx, dto.RegistrationListResponse{
		Registrations: regs,
		Pagination: dto.Pagination{
			Total:      total,
			Page:       filter.Page,
			Limit:      filter.Limit,
			TotalPages: totalPages,
		},
	})
}

// UpdateRegistrationStatus approves or rejects a registration and
// re-enqueues its sheet sync so the mirror reflects the new status.
func (s *service) UpdateRegistrationStatus(ctx *ginext.Context) {
	registrationID := ctx.Param("id")

	var req dto.UpdateRegistrationStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	var note *string
	if req.StatusNote != "" {
		note = &req.StatusNote
	}

	reg, err := s.repo.UpdateRegistrationStatus(ctx.Request.Context(), registrationID, req.Status, note)
	if err != nil {
		if errors.Is(err, repo.ErrRegistrationNotFound) {
			dto.NotFoundError(ctx, dto.RegistrationNotFound, "Registration not found")
			return
		}
		s.log.Error().Err(err).Msg("failed to update registration status")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().
		Str("registration_id", reg.RegistrationID).
		Str("status", reg.Status).
		Msg("registration status updated")

	s.enqueueSync(reg.EventID, reg.RegistrationID)

	if s.mail != nil {
		if event, err := s.repo.GetEventByID(ctx.Request.Context(), reg.EventID); err == nil {
			if err := s.mail.SendRegistrationEmail(event.Name, reg.RegistrationID, reg.Status, reg.Email); err != nil {
				s.log.Warn().Err(err).Msg("failed to send status email")
			}
		}
	}

	dto.SuccessResponse(ctx, reg)
}

// SyncSheet is the admin batch sync: every registration is written in
// submission order and per-row failures are counted, not fatal.
func (s *service) SyncSheet(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	if _, err := s.repo.GetEventByID(ctx.Request.Context(), eventID); err != nil {
		dto.EventNotFoundError(ctx)
		return
	}

	summary, err := s.syncer.SyncAll(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Msg("batch sync failed to run")
		dto.InternalServerError(ctx)
		return
	}

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	dto.SuccessResponse(ctx, dto.BatchSyncResponse{
		SyncStatus: status,
		Attempted:  summary.Attempted,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
	})
}

func (s *service) GetSheetStatus(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	record, err := s.repo.GetSheetByEvent(ctx.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, repo.ErrSheetNotFound) {
			dto.NotFoundError(ctx, dto.SheetNotFound, "No sheet provisioned for this event")
			return
		}
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, record)
}

// enqueueSync hands the registration to the background sync worker.
// Fire-and-forget: a publish failure is logged and the caller's result
// is unaffected.
func (s *service) enqueueSync(eventID int64, registrationID string) {
	payload, err := json.Marshal(dto.SyncRegistrationMessage{
		EventID:        eventID,
		RegistrationID: registrationID,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal sync message")
		return
	}
	if err := s.queue.Publish(payload, 0); err != nil {
		s.log.Error().Err(err).Str("registration_id", registrationID).Msg("failed to enqueue sheet sync")
	}
}

func eventIDParam(ctx *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return 0, false
	}
	return id, true
}

func eventInfo(e model.Event) dto.EventInfoResponse {
	info := dto.EventInfoResponse{Event: e}
	if e.MaxCapacity != nil {
		left := *e.MaxCapacity - e.TotalRegistrations
		if left < 0 {
			left = 0
		}
		info.SeatsLeft = &left
	}
	return info
}

func registrationEventName(ctx *ginext.Context, s *service, eventID int64) string {
	event, err := s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		return fmt.Sprintf("event #%d", eventID)
	}
	return event.Name
}

// checkFieldDefinitions enforces what the struct validator cannot: a
// known type tag per field, non-empty unique ids, and labels present.
func checkFieldDefinitions(fields []model.FormField) string {
	known := map[string]bool{
		model.FieldText: true, model.FieldTextarea: true, model.FieldEmail: true,
		model.FieldPhone: true, model.FieldDropdown: true, model.FieldCheckbox: true,
		model.FieldRadio: true, model.FieldDate: true, model.FieldTime: true,
		model.FieldImage: true,
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.ID == "" {
			return "Every field needs an id"
		}
		if seen[f.ID] {
			return fmt.Sprintf("Duplicate field id %q", f.ID)
		}
		seen[f.ID] = true
		if f.Label == "" {
			return fmt.Sprintf("Field %q needs a label", f.ID)
		}
		if !known[f.Type] {
			return fmt.Sprintf("Unknown field type %q", f.Type)
		}
	}
	return ""
}
