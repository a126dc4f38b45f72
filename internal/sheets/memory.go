package sheets

import (
	"context"
	"fmt"
	"sync"

	"festreg/internal/model"
)

// Memory is an in-process Client used in development mode and in tests.
// It keeps whole sheets as row slices behind one mutex, which is plenty:
// the reconciler is the only writer per sheet and tests exercise the
// interleavings explicitly.
type Memory struct {
	mu     sync.Mutex
	nextID int
	sheets map[string][][]string
}

func NewMemory() *Memory {
	return &Memory{sheets: make(map[string][][]string)}
}

func (m *Memory) CreateSheetForEvent(_ context.Context, eventID int64, eventName string, fields []model.FormField) (*ProvisionedSheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sheetID := fmt.Sprintf("mem-sheet-%d", m.nextID)

	header := []string{"Registration ID", "Submitted At", "Status"}
	for _, field := range fields {
		header = append(header, field.Label)
	}
	header = append(header, "Last Updated")
	m.sheets[sheetID] = [][]string{header}

	return &ProvisionedSheet{
		SheetID:       sheetID,
		SheetURL:      fmt.Sprintf("memory://events/%d/%s", eventID, sheetID),
		ColumnMapping: ColumnMapping(fields),
	}, nil
}

func (m *Memory) WriteRow(_ context.Context, sheetID string, rowIndex int, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.sheets[sheetID]
	if !ok {
		return fmt.Errorf("sheet %s does not exist", sheetID)
	}
	if rowIndex < 1 {
		return fmt.Errorf("row index %d out of range", rowIndex)
	}
	for len(rows) < rowIndex {
		rows = append(rows, nil)
	}
	rows[rowIndex-1] = append([]string(nil), values...)
	m.sheets[sheetID] = rows
	return nil
}

func (m *Memory) ReadColumnLength(_ context.Context, sheetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.sheets[sheetID]
	if !ok {
		return 0, fmt.Errorf("sheet %s does not exist", sheetID)
	}
	return len(rows), nil
}

// Row returns a copy of the 1-based rowIndex, for tests to assert on.
func (m *Memory) Row(sheetID string, rowIndex int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.sheets[sheetID]
	if rowIndex < 1 || rowIndex > len(rows) {
		return nil
	}
	return append([]string(nil), rows[rowIndex-1]...)
}

// RowCount reports the number of rows in a sheet, header included.
func (m *Memory) RowCount(sheetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sheets[sheetID])
}
