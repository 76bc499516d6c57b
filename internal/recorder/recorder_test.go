package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"extrack/internal/categories"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	"extrack/internal/sheets/memory"
)

func newRecorder(t *testing.T, opts ...Option) (*Recorder, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.Provision("01/2025", []string{"Ngày", "Ăn uống", "Đi lại", "Khác"})
	store.Provision("02/2025", []string{"Ngày", "Ăn uống", "Đi lại"})
	dir := categories.NewDirectory(store, categories.WithLogger(applog.Discard()))
	opts = append([]Option{WithLogger(applog.Discard())}, opts...)
	return New(store, dir, opts...), store
}

func expense(desc string, amount int64, cat, date string) core.ExpenseRecord {
	return core.ExpenseRecord{Description: desc, Amount: amount, Category: cat, Date: date}
}

func mustRecord(t *testing.T, rec *Recorder, batch ...core.ExpenseRecord) core.Outcome {
	t.Helper()
	out, err := rec.Record(context.Background(), batch)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	return out
}

func assertCell(t *testing.T, store *memory.Store, tab string, row, col int, want ledger.CellState) {
	t.Helper()
	if got := store.Cell(tab, row, col); got != want {
		t.Errorf("cell %s!%s = %+v, want %+v", tab, ledger.Cell{Row: row, Col: col}.A1(), got, want)
	}
}

func assertTotal(t *testing.T, store *memory.Store, tab string, row, col int, want int64) {
	t.Helper()
	got, err := store.Cell(tab, row, col).Total()
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}
	if got != want {
		t.Errorf("cell %s!%s total = %d, want %d", tab, ledger.Cell{Row: row, Col: col}.A1(), got, want)
	}
}

func assertCounts(t *testing.T, out core.Outcome, recorded, errs int) {
	t.Helper()
	if len(out.Recorded) != recorded || len(out.Errors) != errs {
		t.Fatalf("recorded %d, errors %d, want %d and %d (errors: %v)",
			len(out.Recorded), len(out.Errors), recorded, errs, out.Errors)
	}
}

func TestRecordIntoEmptyCell(t *testing.T) {
	rec, store := newRecorder(t)

	out := mustRecord(t, rec, expense("ăn phở", 50000, "Ăn uống", "09/02/2025"))
	assertCounts(t, out, 1, 0)

	got := out.Recorded[0]
	if got.Tab != "02/2025" || got.Row != 10 || got.Column != 1 {
		t.Errorf("cell ref = %s row %d col %d, want 02/2025 row 10 col 1", got.Tab, got.Row, got.Column)
	}
	if got.A1 != "B11" {
		t.Errorf("A1 = %q, want B11 (day 9 lands on sheet row 11)", got.A1)
	}
	if got.Description != "ăn phở" {
		t.Errorf("Description = %q", got.Description)
	}
	assertCell(t, store, "02/2025", 10, 1, ledger.PlainCell(50000, "ăn phở"))
}

func TestRecordAccumulatesIntoExistingCells(t *testing.T) {
	rec, store := newRecorder(t)
	store.SetCell("02/2025", 10, 1, ledger.PlainCell(20000, "bánh mì"))
	store.SetCell("02/2025", 10, 2, ledger.FormulaCell("= 10000 + 5000", "xe ôm, gửi xe"))

	out := mustRecord(t, rec,
		expense("ăn phở", 50000, "Ăn uống", "09/02/2025"),
		expense("grab", 25000, "Đi lại", "09/02/2025"),
	)
	assertCounts(t, out, 2, 0)

	assertCell(t, store, "02/2025", 10, 1, ledger.FormulaCell("= 20000 + 50000", "bánh mì, ăn phở"))
	assertCell(t, store, "02/2025", 10, 2, ledger.FormulaCell("= 10000 + 5000 + 25000", "xe ôm, gửi xe, grab"))
}

func TestRecordSameCellTwiceInOneBatch(t *testing.T) {
	rec, store := newRecorder(t)

	out := mustRecord(t, rec,
		expense("ăn sáng", 30000, "Ăn uống", "01/01/2025"),
		expense("ăn trưa", 60000, "Ăn uống", "01/01/2025"),
		expense("ăn tối", 70000, "Ăn uống", "01/01/2025"),
	)
	assertCounts(t, out, 3, 0)

	assertTotal(t, store, "01/2025", 2, 1, 160000)
	if note := store.Cell("01/2025", 2, 1).Note; note != "ăn sáng, ăn trưa, ăn tối" {
		t.Errorf("Note = %q", note)
	}
	if _, _, persists := store.Stats(); persists != 1 {
		t.Errorf("persists = %d, want one write per tab group", persists)
	}
}

func TestResubmissionDuplicates(t *testing.T) {
	rec, store := newRecorder(t)
	batch := expense("x", 10000, "Khác", "05/01/2025")

	mustRecord(t, rec, batch)
	mustRecord(t, rec, batch)

	// The same batch submitted twice is recorded twice.
	assertTotal(t, store, "01/2025", 6, 3, 20000)
}

func TestValidRecordsAllRecordedOnce(t *testing.T) {
	rec, _ := newRecorder(t)
	batch := []core.ExpenseRecord{
		expense("a", 1000, "Ăn uống", "01/01/2025"),
		expense("b", 2000, "Đi lại", "02/01/2025"),
		expense("c", 3000, "Khác", "31/01/2025"),
		expense("d", 4000, "Ăn uống", "15/02/2025"),
		expense("e", 5000, "Đi lại", "28/02/2025"),
	}

	out := mustRecord(t, rec, batch...)
	assertCounts(t, out, len(batch), 0)
	for i, e := range out.Recorded {
		if e.ExpenseRecord != batch[i] {
			t.Errorf("Recorded[%d] = %+v, want %+v (input order across groups)", i, e.ExpenseRecord, batch[i])
		}
	}
}

func TestUnknownCategoryOnlyIsHardFailure(t *testing.T) {
	rec, store := newRecorder(t)

	out, err := rec.Record(context.Background(), []core.ExpenseRecord{
		expense("x", 10000, "Unknown", "01/01/2025"),
	})
	var batchErr *core.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("Record() error = %v, want *core.BatchError", err)
	}
	if !errors.Is(err, core.ErrNothingRecorded) {
		t.Errorf("error should wrap ErrNothingRecorded: %v", err)
	}
	if len(batchErr.Errors) != 1 || batchErr.Errors[0].Kind != core.KindUnknownCategory {
		t.Fatalf("batch errors = %v, want one unknown_category", batchErr.Errors)
	}
	for _, want := range []string{`"Unknown"`, "Ăn uống, Đi lại, Khác"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	if len(out.Recorded) != 0 {
		t.Errorf("Recorded = %v, want none", out.Recorded)
	}
	// A group with no valid record does no cell I/O.
	if _, ranges, persists := store.Stats(); len(ranges) != 0 || persists != 0 {
		t.Errorf("ranges %v, persists %d, want no cell I/O", ranges, persists)
	}
}

func TestMissingTabReportedPerRecord(t *testing.T) {
	rec, store := newRecorder(t)

	out := mustRecord(t, rec,
		expense("cơm", 40000, "Ăn uống", "10/01/2025"),
		expense("taxi", 90000, "Đi lại", "10/03/2025"),
	)
	assertCounts(t, out, 1, 1)
	if out.Recorded[0].Tab != "01/2025" {
		t.Errorf("recorded tab = %q, want 01/2025", out.Recorded[0].Tab)
	}

	e := out.Errors[0]
	if e.Kind != core.KindTabNotFound || !errors.Is(e, core.ErrTabNotFound) {
		t.Errorf("error kind = %q (%v), want tab_not_found", e.Kind, e)
	}
	if e.Tab != "03/2025" || !strings.Contains(e.Message, "03/2025") {
		t.Errorf("error tab = %q, message = %q, want 03/2025", e.Tab, e.Message)
	}
	assertCell(t, store, "01/2025", 11, 1, ledger.PlainCell(40000, "cơm"))
}

func TestMissingTabDropsEveryRecordOfGroup(t *testing.T) {
	rec, _ := newRecorder(t)

	out := mustRecord(t, rec,
		expense("a", 1, "Ăn uống", "01/03/2025"),
		expense("b", 2, "Đi lại", "02/03/2025"),
		expense("c", 3, "Khác", "01/01/2025"),
	)
	assertCounts(t, out, 1, 2)
	for _, e := range out.Errors {
		if e.Kind != core.KindTabNotFound {
			t.Errorf("error kind = %q, want tab_not_found", e.Kind)
		}
	}
}

func TestInvalidDatesDoNotBlockValidSiblings(t *testing.T) {
	rec, _ := newRecorder(t)

	out := mustRecord(t, rec,
		expense("bad slash", 1000, "Khác", "01-01-2025"),
		expense("bad day", 1000, "Khác", "32/01/2025"),
		expense("zero day", 1000, "Khác", "0/01/2025"),
		expense("ok", 1000, "Khác", "01/01/2025"),
	)
	assertCounts(t, out, 1, 3)
	for _, e := range out.Errors {
		if e.Kind != core.KindInvalidDate {
			t.Errorf("error kind = %q, want invalid_date", e.Kind)
		}
		if !strings.Contains(e.Message, e.Record.Date) || !strings.Contains(e.Message, e.Record.Description) {
			t.Errorf("message %q should quote the date and description", e.Message)
		}
	}
}

func TestDay31AcceptedAndStrictModeRejects(t *testing.T) {
	rec, store := newRecorder(t)
	store.Provision("04/2025", []string{"Ngày", "Khác"})

	out := mustRecord(t, rec, expense("x", 1000, "Khác", "31/04/2025"))
	assertCounts(t, out, 1, 0)
	if out.Recorded[0].Row != 32 {
		t.Errorf("row = %d, want 32", out.Recorded[0].Row)
	}

	strict, strictStore := newRecorder(t, WithStrictDates(true))
	strictStore.Provision("04/2025", []string{"Ngày", "Khác"})
	_, err := strict.Record(context.Background(), []core.ExpenseRecord{
		expense("x", 1000, "Khác", "31/04/2025"),
	})
	var batchErr *core.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("strict Record() error = %v, want *core.BatchError", err)
	}
	if batchErr.Errors[0].Kind != core.KindInvalidDate {
		t.Errorf("kind = %q, want invalid_date", batchErr.Errors[0].Kind)
	}
}

func TestFetchesMinimalRectangle(t *testing.T) {
	rec, store := newRecorder(t)

	mustRecord(t, rec,
		expense("a", 1, "Đi lại", "03/01/2025"),
		expense("b", 2, "Khác", "09/01/2025"),
		expense("c", 3, "Đi lại", "05/01/2025"),
	)

	_, ranges, _ := store.Stats()
	if len(ranges) != 1 {
		t.Fatalf("range reads = %v, want one", ranges)
	}
	if want := (ledger.Rect{MinRow: 4, MaxRow: 10, MinCol: 2, MaxCol: 3}); ranges[0] != want {
		t.Errorf("range = %+v, want %+v", ranges[0], want)
	}
}

func TestInvalidAmountRejectsWholeBatch(t *testing.T) {
	rec, store := newRecorder(t)

	_, err := rec.Record(context.Background(), []core.ExpenseRecord{
		expense("ok", 1000, "Khác", "01/01/2025"),
		expense("free", 0, "Khác", "01/01/2025"),
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("Record() error = %v, want ErrInvalidAmount", err)
	}
	if headerReads, _, persists := store.Stats(); headerReads != 0 || persists != 0 {
		t.Errorf("header reads %d, persists %d, want no I/O", headerReads, persists)
	}
}

func TestEmptyBatch(t *testing.T) {
	rec, _ := newRecorder(t)
	assertCounts(t, mustRecord(t, rec), 0, 0)
}

func TestTextCellRejectsOnlyRecordsTargetingIt(t *testing.T) {
	rec, store := newRecorder(t)
	store.SetCell("01/2025", 5, 1, ledger.TextCell("nghỉ", ""))

	out := mustRecord(t, rec,
		expense("cơm", 40000, "Ăn uống", "04/01/2025"),
		expense("xe", 15000, "Đi lại", "04/01/2025"),
		expense("bún", 35000, "Ăn uống", "05/01/2025"),
	)
	assertCounts(t, out, 2, 1)

	e := out.Errors[0]
	if e.Kind != core.KindCellNotNumeric || !errors.Is(e, core.ErrCellNotNumeric) {
		t.Errorf("error kind = %q (%v), want cell_not_numeric", e.Kind, e)
	}
	if e.Record.Description != "cơm" {
		t.Errorf("rejected record = %q, want cơm", e.Record.Description)
	}
	for _, want := range []string{"B6", "nghỉ", "cơm"} {
		if !strings.Contains(e.Message, want) {
			t.Errorf("message %q does not mention %q", e.Message, want)
		}
	}

	assertCell(t, store, "01/2025", 5, 1, ledger.TextCell("nghỉ", ""))
	assertCell(t, store, "01/2025", 5, 2, ledger.PlainCell(15000, "xe"))
	assertCell(t, store, "01/2025", 6, 1, ledger.PlainCell(35000, "bún"))
}

func TestUntouchedTextCellInsideRangeIsIgnored(t *testing.T) {
	rec, store := newRecorder(t)
	// B6 lies inside the fetched rectangle B5:C7 but no record targets it.
	store.SetCell("01/2025", 5, 1, ledger.TextCell("Tết", ""))

	out := mustRecord(t, rec,
		expense("a", 1000, "Ăn uống", "03/01/2025"),
		expense("b", 2000, "Đi lại", "05/01/2025"),
	)
	assertCounts(t, out, 2, 0)
	assertCell(t, store, "01/2025", 5, 1, ledger.TextCell("Tết", ""))
	assertCell(t, store, "01/2025", 4, 1, ledger.PlainCell(1000, "a"))
	assertCell(t, store, "01/2025", 6, 2, ledger.PlainCell(2000, "b"))
}

func TestAllRecordsOnTextCellsIsHardFailure(t *testing.T) {
	rec, store := newRecorder(t)
	store.SetCell("01/2025", 2, 3, ledger.TextCell("-", ""))

	_, err := rec.Record(context.Background(), []core.ExpenseRecord{expense("x", 1, "Khác", "01/01/2025")})
	var batchErr *core.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("Record() error = %v, want *core.BatchError", err)
	}
	if batchErr.Errors[0].Kind != core.KindCellNotNumeric {
		t.Errorf("kind = %q, want cell_not_numeric", batchErr.Errors[0].Kind)
	}
	if _, _, persists := store.Stats(); persists != 0 {
		t.Errorf("persists = %d, want 0", persists)
	}
}

// failOnTab wraps a store and fails Persist for one tab only.
type failOnTab struct {
	*memory.Store
	tab string
	err error
}

func (f failOnTab) Persist(ctx context.Context, tab string, updates []ledger.CellUpdate) error {
	if tab == f.tab {
		return f.err
	}
	return f.Store.Persist(ctx, tab, updates)
}

func TestPersistFailureIsFatalWithoutRollback(t *testing.T) {
	store := memory.New()
	store.Provision("01/2025", []string{"Ngày", "Khác"})
	store.Provision("02/2025", []string{"Ngày", "Khác"})
	boom := errors.New("quota exceeded")
	wrapped := failOnTab{Store: store, tab: "02/2025", err: boom}
	rec := New(wrapped, categories.NewDirectory(store, categories.WithLogger(applog.Discard())), WithLogger(applog.Discard()))

	out, err := rec.Record(context.Background(), []core.ExpenseRecord{
		expense("first", 1000, "Khác", "01/01/2025"),
		expense("second", 2000, "Khác", "01/02/2025"),
	})
	if !errors.Is(err, core.ErrPersistFailure) || !errors.Is(err, boom) {
		t.Fatalf("Record() error = %v, want ErrPersistFailure wrapping %v", err, boom)
	}
	var perr *core.PersistError
	if !errors.As(err, &perr) || perr.Tab != "02/2025" {
		t.Errorf("PersistError = %+v, want tab 02/2025", perr)
	}

	// Groups persisted before the failure are reported and not rolled back.
	if len(out.Recorded) != 1 {
		t.Errorf("Recorded = %d, want 1", len(out.Recorded))
	}
	assertCell(t, store, "01/2025", 2, 1, ledger.PlainCell(1000, "first"))
	if k := store.Cell("02/2025", 2, 1).Kind; k != ledger.Empty {
		t.Errorf("failed tab cell kind = %v, want empty", k)
	}
}

type memJournal struct {
	mu      sync.Mutex
	batches map[string][]core.RecordedEntry
	err     error
}

func (j *memJournal) AppendEntries(_ context.Context, batchID string, entries []core.RecordedEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.batches == nil {
		j.batches = make(map[string][]core.RecordedEntry)
	}
	j.batches[batchID] = append(j.batches[batchID], entries...)
	return nil
}

func TestJournalReceivesRecordedEntries(t *testing.T) {
	j := &memJournal{}
	rec, _ := newRecorder(t, WithJournal(j))

	mustRecord(t, rec,
		expense("a", 1000, "Khác", "01/01/2025"),
		expense("b", 2000, "Ăn uống", "02/02/2025"),
		expense("c", 3000, "Unknown", "02/02/2025"),
	)
	if len(j.batches) != 1 {
		t.Fatalf("journal batches = %d, want 1", len(j.batches))
	}
	for id, entries := range j.batches {
		if id == "" {
			t.Error("batch id is empty")
		}
		if len(entries) != 2 {
			t.Errorf("journal entries = %d, want 2", len(entries))
		}
	}
}

func TestJournalUsesBatchIDFromContext(t *testing.T) {
	j := &memJournal{}
	rec, _ := newRecorder(t, WithJournal(j))

	ctx := ContextWithBatchID(context.Background(), "msg-42")
	if _, err := rec.Record(ctx, []core.ExpenseRecord{expense("a", 1000, "Khác", "01/01/2025")}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if n := len(j.batches["msg-42"]); n != 1 {
		t.Errorf("entries under msg-42 = %d, want 1", n)
	}
}

func TestJournalFailureIsNotFatal(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	rec, _ := newRecorder(t, WithJournal(j))

	out := mustRecord(t, rec, expense("a", 1000, "Khác", "01/01/2025"))
	assertCounts(t, out, 1, 0)
}

func TestConcurrentBatchesDoNotLoseUpdates(t *testing.T) {
	rec, store := newRecorder(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Record(context.Background(), []core.ExpenseRecord{expense("x", 100, "Khác", "07/01/2025")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Record() error = %v", err)
		}
	}

	assertTotal(t, store, "01/2025", 8, 3, 2000)
	if n := strings.Count(store.Cell("01/2025", 8, 3).Note, "x"); n != 20 {
		t.Errorf("note mentions x %d times, want 20", n)
	}
}
