package recordstore

import (
	"context"
	"fmt"
	"sync"

	"visitorpass/pkg/platform/sentinel"
)

// MemoryTable is an in-process Table. Each call is atomic on its own; callers
// that read then write still need external locking, exactly as with Sheets.
type MemoryTable struct {
	mu      sync.RWMutex
	headers []string
	index   map[string]int
	rows    [][]string
}

// NewMemoryTable creates an empty table with the given header row.
func NewMemoryTable(headers ...string) *MemoryTable {
	return &MemoryTable{
		headers: append([]string(nil), headers...),
		index:   indexHeaders(headers),
	}
}

func (t *MemoryTable) GetAll(_ context.Context) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Row, 0, len(t.rows))
	for _, cells := range t.rows {
		out = append(out, t.toRow(cells))
	}
	return out, nil
}

func (t *MemoryTable) UpdateByKey(_ context.Context, keyColumn, keyValue string, values map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkColumns(t.index, keyColumn, values); err != nil {
		return err
	}
	keyIdx := t.index[keyColumn]
	for _, cells := range t.rows {
		if cells[keyIdx] != keyValue {
			continue
		}
		for col, v := range values {
			cells[t.index[col]] = v
		}
		return nil
	}
	return fmt.Errorf("%s=%s: %w", keyColumn, keyValue, sentinel.ErrNotFound)
}

// Append adds a row. Columns not in the header row are ignored.
func (t *MemoryTable) Append(_ context.Context, row Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cells := make([]string, len(t.headers))
	for col, v := range row {
		if i, ok := t.index[col]; ok {
			cells[i] = v
		}
	}
	t.rows = append(t.rows, cells)
	return nil
}

// Headers returns a copy of the header row.
func (t *MemoryTable) Headers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.headers...)
}

func (t *MemoryTable) toRow(cells []string) Row {
	r := make(Row, len(t.index))
	for h, i := range t.index {
		r[h] = cells[i]
	}
	return r
}
