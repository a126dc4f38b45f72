package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"festreg/internal/dto"
	"festreg/internal/model"
	"festreg/internal/repo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func upsertFormRequest(t *testing.T, eventID int64, fields []model.FormField) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	body, err := json.Marshal(dto.UpsertFormRequest{Fields: fields})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodPut, "/v1/events/"+strconv.FormatInt(eventID, 10)+"/form", bytes.NewReader(body))
	ctx.Request.Header.Set("Content-Type", "application/json")
	ctx.Params = gin.Params{{Key: "id", Value: strconv.FormatInt(eventID, 10)}}
	return ctx, w
}

func decodeFormResponse(t *testing.T, w *httptest.ResponseRecorder) dto.UpsertFormResponse {
	t.Helper()

	var resp struct {
		Status string                 `json:"status"`
		Data   dto.UpsertFormResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q, body %s", resp.Status, w.Body.String())
	}
	if resp.Data.Form == nil {
		t.Fatal("no form in response")
	}
	return resp.Data
}

func formFields(labels ...string) []model.FormField {
	fields := []model.FormField{
		{ID: "email", Type: model.FieldEmail, Label: "Email", Required: true, Order: 0},
	}
	for i, label := range labels {
		fields = append(fields, model.FormField{
			ID:    "f" + strconv.Itoa(i),
			Type:  model.FieldText,
			Label: label,
			Order: i + 1,
		})
	}
	return fields
}

// TestUpsertFormMutatesInPlaceWithoutRegistrations edits a form before
// anyone has registered; the same form version is updated and no
// warning is issued.
func TestUpsertFormMutatesInPlaceWithoutRegistrations(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store)

	eventID, err := store.CreateEvent(context.Background(), &model.Event{
		Name:     "Pitch Night",
		Status:   model.EventPublished,
		Deadline: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, w := upsertFormRequest(t, eventID, formFields("Project Title"))
	svc.UpsertForm(ctx)
	if w.Code != http.StatusOK {
		t.Fatalf("first upsert status = %d, body %s", w.Code, w.Body.String())
	}
	first := decodeFormResponse(t, w)

	ctx, w = upsertFormRequest(t, eventID, formFields("Project Title", "Team Size"))
	svc.UpsertForm(ctx)
	if w.Code != http.StatusOK {
		t.Fatalf("second upsert status = %d, body %s", w.Code, w.Body.String())
	}
	second := decodeFormResponse(t, w)

	if second.Form.ID != first.Form.ID {
		t.Errorf("form id changed from %d to %d without registrations", first.Form.ID, second.Form.ID)
	}
	if second.Warning != "" {
		t.Errorf("unexpected warning %q", second.Warning)
	}

	active, err := store.GetActiveForm(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active.Fields) != 3 {
		t.Errorf("active form has %d fields, want 3", len(active.Fields))
	}
}

// TestUpsertFormVersionsAfterRegistrations edits a form that already has
// a submission; the old version must be kept and deactivated, a new
// active version created, and the caller warned.
func TestUpsertFormVersionsAfterRegistrations(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store)

	eventID, err := store.CreateEvent(context.Background(), &model.Event{
		Name:     "Pitch Night",
		Status:   model.EventPublished,
		Deadline: time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, w := upsertFormRequest(t, eventID, formFields("Project Title"))
	svc.UpsertForm(ctx)
	first := decodeFormResponse(t, w)

	if _, err := store.CreateRegistrationTx(context.Background(), &model.Registration{
		RegistrationID: "REG-2026-000042",
		EventID:        eventID,
		FormData:       map[string]any{"email": "ada@example.com", "f0": "Festreg"},
		Email:          "ada@example.com",
		Status:         model.RegistrationApproved,
		SubmittedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("create registration: %v", err)
	}

	ctx, w = upsertFormRequest(t, eventID, formFields("Project Title", "Team Size"))
	svc.UpsertForm(ctx)
	if w.Code != http.StatusOK {
		t.Fatalf("versioning upsert status = %d, body %s", w.Code, w.Body.String())
	}
	second := decodeFormResponse(t, w)

	if second.Form.ID == first.Form.ID {
		t.Errorf("form id %d reused although registrations exist", first.Form.ID)
	}
	if !strings.Contains(second.Warning, "only apply to new registrations") {
		t.Errorf("warning = %q, want the new-registrations notice", second.Warning)
	}

	active, err := store.GetActiveForm(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.Form.ID {
		t.Errorf("active form id = %d, want the new version %d", active.ID, second.Form.ID)
	}
	if len(active.Fields) != 3 {
		t.Errorf("active form has %d fields, want 3", len(active.Fields))
	}
}
