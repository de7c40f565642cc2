package recordstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"visitorpass/pkg/platform/sentinel"
)

// valueInputRaw stores strings verbatim, so a phone number such as
// "+15550100" is never parsed as a formula or a number.
const valueInputRaw = "RAW"

// SheetsTable is a Table backed by one sheet of a Google spreadsheet. Row 1
// is the header row.
type SheetsTable struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsTable builds a client from opts (credentials file, endpoint, HTTP client).
func NewSheetsTable(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsTable, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	return &SheetsTable{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func (t *SheetsTable) GetAll(ctx context.Context) ([]Row, error) {
	headers, data, err := t.read(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexHeaders(headers)
	out := make([]Row, 0, len(data))
	for _, cells := range data {
		r := make(Row, len(idx))
		for h, i := range idx {
			r[h] = cell(cells, i)
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateByKey issues one values:batchUpdate covering every changed cell.
func (t *SheetsTable) UpdateByKey(ctx context.Context, keyColumn, keyValue string, values map[string]string) error {
	headers, data, err := t.read(ctx)
	if err != nil {
		return err
	}
	idx := indexHeaders(headers)
	if err := checkColumns(idx, keyColumn, values); err != nil {
		return err
	}

	keyIdx := idx[keyColumn]
	sheetRow := -1
	for i, cells := range data {
		if cell(cells, keyIdx) == keyValue {
			sheetRow = i + 2 // 1-based, after the header row
			break
		}
	}
	if sheetRow < 0 {
		return fmt.Errorf("%s=%s: %w", keyColumn, keyValue, sentinel.ErrNotFound)
	}

	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInputRaw}
	for col, v := range values {
		req.Data = append(req.Data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteSheet(t.sheetName), ColumnLetter(idx[col]), sheetRow),
			Values: [][]interface{}{{v}},
		})
	}
	if _, err := t.svc.Spreadsheets.Values.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return translate("batch update", err)
	}
	return nil
}

// Append writes row after the last data row, ordered by the header row.
func (t *SheetsTable) Append(ctx context.Context, row Row) error {
	headers, _, err := t.read(ctx)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = row[h]
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{cells}}
	_, err = t.svc.Spreadsheets.Values.Append(t.spreadsheetID, quoteSheet(t.sheetName), vr).
		ValueInputOption(valueInputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return translate("append", err)
	}
	return nil
}

func (t *SheetsTable) read(ctx context.Context) ([]string, [][]interface{}, error) {
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, quoteSheet(t.sheetName)).Context(ctx).Do()
	if err != nil {
		return nil, nil, translate("get values", err)
	}
	if len(resp.Values) == 0 {
		return nil, nil, nil
	}
	headers := make([]string, len(resp.Values[0]))
	for i := range resp.Values[0] {
		headers[i] = strings.TrimSpace(cell(resp.Values[0], i))
	}
	return headers, resp.Values[1:], nil
}

func cell(cells []interface{}, i int) string {
	// The API trims trailing empty cells from each row.
	if i >= len(cells) || cells[i] == nil {
		return ""
	}
	if s, ok := cells[i].(string); ok {
		return s
	}
	return fmt.Sprint(cells[i])
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ColumnLetter converts a 0-based column index to A1 notation (0 → A, 26 → AA).
func ColumnLetter(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}

func translate(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
		return fmt.Errorf("sheets %s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("sheets %s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("sheets %s: %w", op, err)
}
