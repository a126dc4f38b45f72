// Package syncer mirrors admitted registrations into the event's external
// spreadsheet. Syncs are best effort: outcomes are recorded on the event's
// sheet record and never block or fail the submission path.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"festreg/internal/model"
	"festreg/internal/repo"
	"festreg/internal/sheets"
)

// DefaultBatchDelay paces batch syncs so the vendor's rate limits are
// respected.
const DefaultBatchDelay = 100 * time.Millisecond

// Summary is the outcome of one batch sync. A batch with failures is
// "partial", never an overall failure.
type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Syncer struct {
	store      repo.Repository
	client     sheets.Client
	log        *zerolog.Logger
	batchDelay time.Duration
}

func New(store repo.Repository, client sheets.Client, log *zerolog.Logger, batchDelay time.Duration) *Syncer {
	if batchDelay <= 0 {
		batchDelay = DefaultBatchDelay
	}
	return &Syncer{
		store:      store,
		client:     client,
		log:        log,
		batchDelay: batchDelay,
	}
}

// SyncOne writes a single registration to the event's sheet, assigning a
// row pointer on first sync and reusing it afterwards so repeated syncs
// update in place. Failures are recorded on the sheet record and returned;
// the caller decides whether to retry.
func (s *Syncer) SyncOne(ctx context.Context, eventID int64, reg *model.Registration) error {
	sheet, err := s.store.GetSheetByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("resolve sheet for event %d: %w", eventID, err)
	}

	activeForm, err := s.store.GetActiveForm(ctx, eventID)
	if err != nil {
		err = fmt.Errorf("resolve active form for event %d: %w", eventID, err)
		s.recordFailure(ctx, eventID, err)
		return err
	}

	row := buildRow(reg, activeForm.Fields)

	target, err := s.resolveRow(ctx, sheet.SheetID, reg)
	if err != nil {
		s.recordFailure(ctx, eventID, err)
		return err
	}

	if err := s.client.WriteRow(ctx, sheet.SheetID, target, row); err != nil {
		err = fmt.Errorf("write row %d: %w", target, err)
		s.recordFailure(ctx, eventID, err)
		return err
	}

	now := time.Now()
	if err := s.store.MarkSheetSynced(ctx, eventID); err != nil {
		return err
	}
	if err := s.store.MarkRegistrationSynced(ctx, reg.ID, now); err != nil {
		return err
	}

	s.log.Debug().
		Str("registration_id", reg.RegistrationID).
		Int64("event_id", eventID).
		Int("row", target).
		Msg("registration synced to sheet")
	return nil
}

// SyncAll walks an event's registrations in submission order, tolerating
// and counting per-registration failures, with a small delay between
// writes.
func (s *Syncer) SyncAll(ctx context.Context, eventID int64) (Summary, error) {
	regs, err := s.store.GetRegistrationsByEvent(ctx, eventID)
	if err != nil {
		return Summary{}, fmt.Errorf("list registrations for event %d: %w", eventID, err)
	}

	summary := Summary{Attempted: len(regs)}
	for i := range regs {
		if err := s.SyncOne(ctx, eventID, &regs[i]); err != nil {
			summary.Failed++
			s.log.Warn().
				Err(err).
				Str("registration_id", regs[i].RegistrationID).
				Msg("failed to sync registration")
		} else {
			summary.Succeeded++
		}

		// Pace between writes only; the final row needs no trailing delay.
		if i < len(regs)-1 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}

	// A later success inside the loop flips the record back to success, so
	// a batch with any failures settles the record on failed at the end.
	if summary.Failed > 0 {
		if err := s.store.SetSheetSyncStatus(ctx, eventID, model.SyncFailed); err != nil {
			s.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to settle sheet sync status")
		}
	}
	return summary, nil
}

// resolveRow returns the registration's sheet row, allocating the next
// free one on first sync. The claim goes through the store so a racing
// batch sync and single sync settle on the same pointer.
func (s *Syncer) resolveRow(ctx context.Context, sheetID string, reg *model.Registration) (int, error) {
	if reg.SheetRow != nil {
		return *reg.SheetRow, nil
	}

	used, err := s.client.ReadColumnLength(ctx, sheetID)
	if err != nil {
		return 0, fmt.Errorf("read sheet length: %w", err)
	}

	claimed, err := s.store.ClaimSheetRow(ctx, reg.ID, used+1)
	if err != nil {
		return 0, fmt.Errorf("claim sheet row: %w", err)
	}
	reg.SheetRow = &claimed
	return claimed, nil
}

// buildRow lays the registration out in the sheet's column order:
// identifier, submission time, status, one value per form field in schema
// order, then the last-updated stamp.
func buildRow(reg *model.Registration, fields []model.FormField) []string {
	row := []string{
		reg.RegistrationID,
		reg.SubmittedAt.UTC().Format(time.RFC3339),
		reg.Status,
	}
	for _, field := range fields {
		row = append(row, cellValue(reg.FormData[field.ID]))
	}
	row = append(row, reg.UpdatedAt.UTC().Format(time.RFC3339))
	return row
}

// cellValue flattens one answer to a cell. Multi-select answers are
// joined with a comma.
func cellValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, cellValue(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *Syncer) recordFailure(ctx context.Context, eventID int64, syncErr error) {
	if err := s.store.MarkSheetFailed(ctx, eventID, syncErr.Error()); err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to record sheet sync failure")
	}
}
