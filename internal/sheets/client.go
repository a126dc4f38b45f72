// Package sheets defines the narrow boundary to the external spreadsheet
// vendor. The core only provisions a sheet, writes one row at a time, and
// asks how long the first column is; everything vendor-specific lives
// behind Client.
package sheets

import (
	"context"

	"festreg/internal/model"
)

// ProvisionedSheet is what provisioning hands back: the vendor's sheet
// identifier, a shareable URL, and the field-id -> column-letter mapping
// used by every subsequent row write.
type ProvisionedSheet struct {
	SheetID       string
	SheetURL      string
	ColumnMapping map[string]string
}

type Client interface {
	// CreateSheetForEvent provisions a sheet with a header row laid out as
	// [Registration ID, Submitted At, Status, <one column per field>, Last Updated].
	CreateSheetForEvent(ctx context.Context, eventID int64, eventName string, fields []model.FormField) (*ProvisionedSheet, error)
	// WriteRow overwrites the 1-based rowIndex with values.
	WriteRow(ctx context.Context, sheetID string, rowIndex int, values []string) error
	// ReadColumnLength reports how many rows the first column currently
	// holds, header included.
	ReadColumnLength(ctx context.Context, sheetID string) (int, error)
}

// ColumnMapping lays field columns out after the three fixed leading
// columns, matching the header row written at provisioning time.
func ColumnMapping(fields []model.FormField) map[string]string {
	mapping := map[string]string{
		"registration_id": "A",
		"submitted_at":    "B",
		"status":          "C",
	}
	for i, field := range fields {
		mapping[field.ID] = columnLetter(3 + i)
	}
	mapping["last_updated"] = columnLetter(3 + len(fields))
	return mapping
}

// columnLetter converts a zero-based column index to spreadsheet letters
// (A, B, ... Z, AA, AB, ...).
func columnLetter(index int) string {
	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}
