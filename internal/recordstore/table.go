// Package recordstore is the tabular persistence contract: a header row of
// column names and data rows addressed by the value of a key column, the way
// a visitor log spreadsheet is laid out.
package recordstore

import (
	"context"
	"fmt"

	"visitorpass/pkg/platform/sentinel"
)

// Row maps column name to cell value. Missing columns read as "".
type Row map[string]string

// Table is a header-keyed table.
//
// UpdateByKey writes every entry of values to the first row whose keyColumn
// equals keyValue in a single call. It returns sentinel.ErrColumnNotFound when
// keyColumn or any column in values is absent from the header row (and writes
// nothing), and sentinel.ErrNotFound when no row matches.
type Table interface {
	GetAll(ctx context.Context) ([]Row, error)
	UpdateByKey(ctx context.Context, keyColumn, keyValue string, values map[string]string) error
	Append(ctx context.Context, row Row) error
}

// FindByKey returns the first row whose keyColumn equals keyValue.
func FindByKey(ctx context.Context, t Table, keyColumn, keyValue string) (Row, error) {
	rows, err := t.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r[keyColumn] == keyValue {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s=%s: %w", keyColumn, keyValue, sentinel.ErrNotFound)
}

func indexHeaders(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := idx[h]; !dup && h != "" {
			idx[h] = i
		}
	}
	return idx
}

func checkColumns(idx map[string]int, keyColumn string, values map[string]string) error {
	if _, ok := idx[keyColumn]; !ok {
		return fmt.Errorf("%s: %w", keyColumn, sentinel.ErrColumnNotFound)
	}
	for col := range values {
		if _, ok := idx[col]; !ok {
			return fmt.Errorf("%s: %w", col, sentinel.ErrColumnNotFound)
		}
	}
	return nil
}
