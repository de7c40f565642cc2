package recordstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"visitorpass/pkg/platform/sentinel"
)

// fakeSheets serves the three Values endpoints the adapter uses over an
// in-memory grid.
type fakeSheets struct {
	mu           sync.Mutex
	grid         [][]string
	batchCalls   int
	inputOptions []string
	status       int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(f.status) + `,"message":"injected"}}`))
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet:
		values := make([][]string, len(f.grid))
		for i, row := range f.grid {
			end := len(row)
			for end > 0 && row[end-1] == "" {
				end--
			}
			values[i] = row[:end]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"majorDimension": "ROWS", "values": values})

	case strings.HasSuffix(path, ":batchUpdate"):
		var req struct {
			ValueInputOption string `json:"valueInputOption"`
			Data             []struct {
				Range  string     `json:"range"`
				Values [][]string `json:"values"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.batchCalls++
		f.inputOptions = append(f.inputOptions, req.ValueInputOption)
		for _, d := range req.Data {
			col, row := parseA1(d.Range)
			for len(f.grid[row]) <= col {
				f.grid[row] = append(f.grid[row], "")
			}
			f.grid[row][col] = d.Values[0][0]
		}
		_, _ = w.Write([]byte(`{}`))

	case strings.HasSuffix(path, ":append"):
		var req struct {
			Values [][]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.inputOptions = append(f.inputOptions, r.URL.Query().Get("valueInputOption"))
		f.grid = append(f.grid, req.Values...)
		_, _ = w.Write([]byte(`{}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// parseA1 turns "'Visitors'!C3" into zero-based (col 2, row 2).
func parseA1(rng string) (int, int) {
	ref := rng[strings.LastIndex(rng, "!")+1:]
	i := 0
	col := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	row, _ := strconv.Atoi(ref[i:])
	return col - 1, row - 1
}

func newSheetsTable(t *testing.T, fake *fakeSheets) *SheetsTable {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	tbl, err := NewSheetsTable(context.Background(), "sheet-1", "Visitors",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return tbl
}

func TestSheetsTable(t *testing.T) {
	runTableContract(t, func(t *testing.T, headers []string) Table {
		return newSheetsTable(t, &fakeSheets{grid: [][]string{append([]string(nil), headers...)}})
	})
}

func TestSheetsTableSingleRawBatchPerUpdate(t *testing.T) {
	fake := &fakeSheets{grid: [][]string{
		testHeaders,
		{"a", "Ada", "+15550100", "PENDING"},
	}}
	tbl := newSheetsTable(t, fake)

	err := tbl.UpdateByKey(context.Background(), "visitor_id", "a", map[string]string{
		"status":        "APPROVED",
		"approval_time": "2026-03-14T09:30:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.batchCalls)
	assert.Equal(t, []string{"RAW"}, fake.inputOptions)
	assert.Equal(t, []string{"a", "Ada", "+15550100", "APPROVED", "2026-03-14T09:30:00Z"}, fake.grid[1])
}

func TestSheetsTableUnavailable(t *testing.T) {
	tbl := newSheetsTable(t, &fakeSheets{status: http.StatusServiceUnavailable})
	_, err := tbl.GetAll(context.Background())
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AZ", ColumnLetter(51))
	assert.Equal(t, "BA", ColumnLetter(52))
}
