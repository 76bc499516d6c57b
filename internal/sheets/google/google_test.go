package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
)

// fakeSheets serves the handful of Sheets API v4 calls the client makes.
type fakeSheets struct {
	mu        sync.Mutex
	tabs      map[string]int64
	header    []interface{}
	grid      *gsheet.Spreadsheet
	listCalls int
	batches   []gsheet.BatchUpdateSpreadsheetRequest
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, req)
		_ = json.NewEncoder(w).Encode(gsheet.BatchUpdateSpreadsheetResponse{SpreadsheetId: "sid"})
	case strings.Contains(path, "/values/"):
		_ = json.NewEncoder(w).Encode(gsheet.ValueRange{Values: [][]interface{}{f.header}})
	case r.URL.Query().Get("includeGridData") == "true":
		_ = json.NewEncoder(w).Encode(f.grid)
	default:
		f.listCalls++
		resp := gsheet.Spreadsheet{}
		for title, id := range f.tabs {
			resp.Sheets = append(resp.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: title, SheetId: id}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	return newTestClientWithIDs(t, f, SpreadsheetIDs{Fallback: "sid"})
}

func newTestClientWithIDs(t *testing.T, f *fakeSheets, ids SpreadsheetIDs) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return New(svc, ids, WithLogger(applog.Discard()))
}

func TestClientHeaderRow(t *testing.T) {
	f := &fakeSheets{
		tabs:   map[string]int64{"02/2025": 7},
		header: []interface{}{"Ngày", "Ăn uống", " Đi lại "},
	}
	c := newTestClient(t, f)

	hdr, err := c.HeaderRow(context.Background(), "02/2025")
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if len(hdr) != 3 || hdr[2] != "Đi lại" {
		t.Fatalf("unexpected header %q", hdr)
	}

	if _, err := c.HeaderRow(context.Background(), "02/2025"); err != nil {
		t.Fatalf("header: %v", err)
	}
	if f.listCalls != 1 {
		t.Fatalf("tab lookup should be cached, got %d list calls", f.listCalls)
	}
}

func TestClientMissingTab(t *testing.T) {
	f := &fakeSheets{tabs: map[string]int64{"01/2025": 0}}
	c := newTestClient(t, f)

	_, err := c.HeaderRow(context.Background(), "03/2025")
	if !errors.Is(err, core.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
	_, err = c.FetchRange(context.Background(), "03/2025", ledger.Rect{})
	if !errors.Is(err, core.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
	if f.listCalls != 2 {
		t.Fatalf("missing tabs must not be cached, got %d list calls", f.listCalls)
	}
}

func TestClientFetchAndPersist(t *testing.T) {
	rect := ledger.Rect{MinRow: 10, MaxRow: 10, MinCol: 1, MaxCol: 1}
	f := &fakeSheets{
		tabs: map[string]int64{"02/2025": 0},
		grid: &gsheet.Spreadsheet{Sheets: []*gsheet.Sheet{{Data: []*gsheet.GridData{{
			StartRow: 10, StartColumn: 1,
			RowData: []*gsheet.RowData{{Values: []*gsheet.CellData{{UserEnteredValue: num(20000), Note: "bánh mì"}}}},
		}}}}},
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	grid, err := c.FetchRange(ctx, "02/2025", rect)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cur, _ := grid.At(10, 1)
	next := ledger.Merge(cur, 50000, "ăn phở")

	if err := c.Persist(ctx, "02/2025", []ledger.CellUpdate{{Row: 10, Col: 1, State: next}}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(f.batches) != 1 || len(f.batches[0].Requests) != 1 {
		t.Fatalf("expected one batch with one request, got %+v", f.batches)
	}
	uc := f.batches[0].Requests[0].UpdateCells
	cd := uc.Rows[0].Values[0]
	if cd.UserEnteredValue.FormulaValue == nil || *cd.UserEnteredValue.FormulaValue != "= 20000 + 50000" {
		t.Fatalf("unexpected formula %+v", cd.UserEnteredValue)
	}
	if cd.Note != "bánh mì, ăn phở" {
		t.Fatalf("unexpected note %q", cd.Note)
	}
	if uc.Start.RowIndex != 10 || uc.Start.ColumnIndex != 1 {
		t.Fatalf("unexpected start %+v", uc.Start)
	}
}

func TestPersistNothingIsNoop(t *testing.T) {
	c := New(nil, SpreadsheetIDs{Fallback: "sid"}, WithLogger(applog.Discard()))
	if err := c.Persist(context.Background(), "02/2025", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSpreadsheetIDsFromEnv(t *testing.T) {
	ids := SpreadsheetIDsFromEnv([]string{
		"GOOGLE_SPREADSHEET_ID=fallback",
		"GOOGLE_SPREADSHEET_ID_2025=y2025",
		"GOOGLE_SPREADSHEET_ID_XYZ=ignored",
		"GOOGLE_SPREADSHEET_ID_2024=",
		"PATH=/usr/bin",
	})

	if id, err := ids.For("02/2025"); err != nil || id != "y2025" {
		t.Fatalf("2025: got %q err=%v", id, err)
	}
	if id, err := ids.For("02/2024"); err != nil || id != "fallback" {
		t.Fatalf("2024: got %q err=%v", id, err)
	}

	only := SpreadsheetIDs{ByYear: map[int]string{2025: "y2025"}}
	if _, err := only.For("01/2026"); err == nil || !strings.Contains(err.Error(), "GOOGLE_SPREADSHEET_ID_2026") {
		t.Fatalf("expected hint about missing year, got %v", err)
	}
	if _, err := only.For("01/2026"); !errors.Is(err, core.ErrTabNotFound) {
		t.Fatalf("unconfigured year should wrap ErrTabNotFound, got %v", err)
	}
	for _, bad := range []string{"13/2025", "00/2025", "2025"} {
		if _, err := ids.For(bad); !errors.Is(err, core.ErrTabNotFound) {
			t.Errorf("For(%q) should wrap ErrTabNotFound, got %v", bad, err)
		}
	}
	if !(SpreadsheetIDs{}).Empty() {
		t.Fatal("zero value should be empty")
	}
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "GOOGLE_SPREADSHEET_ID") {
			t.Setenv(k, "")
		}
	}
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sid")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_InvalidCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sid")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "not-json")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "parse service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}
