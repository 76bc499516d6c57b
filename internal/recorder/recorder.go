// Package recorder merges batches of expense records into the month tabs of
// the ledger grid.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"extrack/internal/categories"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	"extrack/internal/sheets"
)

// CategoryResolver yields the category map of a tab.
type CategoryResolver interface {
	MapFor(ctx context.Context, tab string) (categories.Map, error)
}

// Journal receives the entries of every successfully persisted group.
type Journal interface {
	AppendEntries(ctx context.Context, batchID string, entries []core.RecordedEntry) error
}

// Recorder is the single writer of one ledger. Calls to Record are serialised.
type Recorder struct {
	store    sheets.GridStore
	cats     CategoryResolver
	resolver ledger.Resolver
	journal  Journal
	logger   *applog.Logger

	mu sync.Mutex
}

type Option func(*Recorder)

// WithStrictDates rejects calendar-impossible days such as 31/04.
func WithStrictDates(strict bool) Option {
	return func(r *Recorder) { r.resolver = ledger.NewResolver(strict) }
}

func WithJournal(j Journal) Option {
	return func(r *Recorder) { r.journal = j }
}

func WithLogger(l *applog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

func New(store sheets.GridStore, cats CategoryResolver, opts ...Option) *Recorder {
	r := &Recorder{
		store:    store,
		cats:     cats,
		resolver: ledger.NewResolver(false),
		logger:   applog.New(applog.DefaultConfig()),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.WithComponent(applog.ComponentRecorder)
	return r
}

type placed struct {
	rec core.ExpenseRecord
	row int
	col int
}

type group struct {
	tab     string
	records []placed
}

// Record merges expenses into the ledger.
//
// Per-record problems (bad date, unknown category, missing tab, a target cell
// holding text) are returned in Outcome.Errors while the rest of the batch is
// still recorded. The error
// return is reserved for hard failures:
//   - a record violating the input contract (*before* any I/O)
//   - a failed persist (*core.PersistError); groups written earlier stay written
//   - a batch where nothing could be recorded (*core.BatchError)
//   - any other grid store failure
//
// The partial Outcome is returned alongside a persist failure.
func (r *Recorder) Record(ctx context.Context, expenses []core.ExpenseRecord) (core.Outcome, error) {
	for i, e := range expenses {
		if err := e.Validate(); err != nil {
			return core.Outcome{}, fmt.Errorf("expense %d (%q): %w", i, e.Description, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	batchID, ok := BatchIDFromContext(ctx)
	if !ok {
		batchID = uuid.NewString()
	}
	log := r.logger.With(applog.FieldBatchID, batchID)

	var out core.Outcome
	groups := r.group(expenses, &out)

	for _, g := range groups {
		if err := r.recordGroup(ctx, batchID, g, &out); err != nil {
			log.ErrorContext(ctx, "Batch aborted",
				applog.FieldTab, g.tab,
				applog.FieldRecorded, len(out.Recorded),
				applog.FieldError, err)
			return out, err
		}
	}

	applog.NewStructuredLogger(r.logger).
		LogBatchRecorded(ctx, batchID, len(expenses), len(out.Recorded), len(out.Errors))

	if len(out.Recorded) == 0 && len(out.Errors) > 0 {
		return out, &core.BatchError{Errors: out.Errors}
	}
	return out, nil
}

// group resolves dates and buckets records by tab in order of first appearance.
func (r *Recorder) group(expenses []core.ExpenseRecord, out *core.Outcome) []*group {
	var order []*group
	byTab := make(map[string]*group)
	for _, e := range expenses {
		tab, row, err := r.resolver.Resolve(e.Date)
		if err != nil {
			out.Errors = append(out.Errors, core.NewInvalidDateError(e))
			continue
		}
		g, ok := byTab[tab]
		if !ok {
			g = &group{tab: tab}
			byTab[tab] = g
			order = append(order, g)
		}
		g.records = append(g.records, placed{rec: e, row: row})
	}
	return order
}

func (r *Recorder) recordGroup(ctx context.Context, batchID string, g *group, out *core.Outcome) error {
	m, err := r.cats.MapFor(ctx, g.tab)
	if errors.Is(err, core.ErrTabNotFound) {
		r.dropGroup(ctx, g, out)
		return nil
	}
	if err != nil {
		return fmt.Errorf("categories of %q: %w", g.tab, err)
	}

	valid := make([]placed, 0, len(g.records))
	for _, p := range g.records {
		col, ok := m.Column(p.rec.Category)
		if !ok {
			out.Errors = append(out.Errors, core.NewUnknownCategoryError(p.rec, g.tab, m.Names()))
			continue
		}
		p.col = col
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return nil
	}

	cells := make([]ledger.Cell, len(valid))
	for i, p := range valid {
		cells[i] = ledger.Cell{Row: p.row, Col: p.col}
	}
	rect, _ := ledger.BoundingRect(cells)

	grid, err := r.store.FetchRange(ctx, g.tab, rect)
	if errors.Is(err, core.ErrTabNotFound) {
		r.dropGroup(ctx, &group{tab: g.tab, records: valid}, out)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rect.A1(g.tab), err)
	}

	// Several records may land in the same cell; each merge builds on the previous one.
	staged := make(map[ledger.Cell]int)
	var updates []ledger.CellUpdate
	merged := make([]placed, 0, len(valid))
	for _, p := range valid {
		c := ledger.Cell{Row: p.row, Col: p.col}
		if i, ok := staged[c]; ok {
			updates[i].State = ledger.Merge(updates[i].State, p.rec.Amount, p.rec.Description)
			merged = append(merged, p)
			continue
		}
		cur, _ := grid.At(c.Row, c.Col)
		if !cur.Accepts() {
			out.Errors = append(out.Errors, core.NewCellNotNumericError(p.rec, g.tab, c.A1(), cur.Raw))
			continue
		}
		staged[c] = len(updates)
		updates = append(updates, ledger.CellUpdate{Row: c.Row, Col: c.Col, State: ledger.Merge(cur, p.rec.Amount, p.rec.Description)})
		merged = append(merged, p)
	}
	if len(merged) == 0 {
		return nil
	}

	if err := r.store.Persist(ctx, g.tab, updates); err != nil {
		return &core.PersistError{Tab: g.tab, Err: err}
	}

	entries := make([]core.RecordedEntry, len(merged))
	for i, p := range merged {
		entries[i] = core.RecordedEntry{
			ExpenseRecord: p.rec,
			CellRef: core.CellRef{
				Tab:    g.tab,
				Row:    p.row,
				Column: p.col,
				A1:     ledger.Cell{Row: p.row, Col: p.col}.A1(),
			},
		}
	}
	out.Recorded = append(out.Recorded, entries...)

	r.logger.InfoContext(ctx, "Recorded expenses",
		applog.FieldBatchID, batchID,
		applog.FieldTab, g.tab,
		applog.FieldRange, rect.A1(g.tab),
		applog.FieldRecorded, len(entries),
		"cells", len(updates))

	if r.journal != nil {
		if err := r.journal.AppendEntries(ctx, batchID, entries); err != nil {
			// Journal failures never undo the grid write.
			r.logger.WarnContext(ctx, "Failed to journal recorded expenses",
				applog.FieldBatchID, batchID,
				applog.FieldTab, g.tab,
				applog.FieldError, err)
		}
	}
	return nil
}

func (r *Recorder) dropGroup(ctx context.Context, g *group, out *core.Outcome) {
	r.logger.WarnContext(ctx, "Month tab not provisioned",
		applog.FieldTab, g.tab,
		applog.FieldRecords, len(g.records))
	for _, p := range g.records {
		out.Errors = append(out.Errors, core.NewTabNotFoundError(p.rec, g.tab))
	}
}

type batchIDKey struct{}

// ContextWithBatchID makes Record journal its entries under id instead of a
// generated one.
func ContextWithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchIDFromContext returns the batch id set by ContextWithBatchID.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(batchIDKey{}).(string)
	return id, ok && id != ""
}
