package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	ports "extrack/internal/sheets"

	_ "modernc.org/sqlite"
)

var (
	_ ports.GridStore      = (*SQLiteRepository)(nil)
	_ ports.TabProvisioner = (*SQLiteRepository)(nil)
)

// SQLiteRepository is a durable local ledger grid with an append-only journal
// of recorded expenses.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *applog.Logger
}

func NewSQLiteRepository(dbPath string, logger *applog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("SQLite ledger ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) requireTab(ctx context.Context, q *Queries, tab string) error {
	ok, err := q.TabExists(ctx, tab)
	if err != nil {
		return fmt.Errorf("lookup tab %q: %w", tab, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTabNotFound, tab)
	}
	return nil
}

// ProvisionTab implements sheets.TabProvisioner. An existing tab keeps its
// cells and has its header row replaced.
func (r *SQLiteRepository) ProvisionTab(ctx context.Context, tab string, headers []string) error {
	if _, _, err := ledger.ParseTabLabel(tab); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.InsertTab(ctx, tab); err != nil {
		return fmt.Errorf("insert tab %q: %w", tab, err)
	}
	if err := q.DeleteHeaders(ctx, tab); err != nil {
		return fmt.Errorf("clear headers of %q: %w", tab, err)
	}
	for col, name := range headers {
		if err := q.InsertHeader(ctx, tab, int64(col), name); err != nil {
			return fmt.Errorf("insert header %q of %q: %w", name, tab, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.InfoContext(ctx, "Tab provisioned",
		applog.FieldOperation, applog.OpProvision,
		applog.FieldTab, tab,
		"columns", len(headers))
	return nil
}

// Tabs lists provisioned tab labels in chronological order.
func (r *SQLiteRepository) Tabs(ctx context.Context) ([]string, error) {
	tabs, err := r.queries.ListTabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	return tabs, nil
}

// HeaderRow implements sheets.HeaderReader. Gaps between stored columns come
// back as blank headers.
func (r *SQLiteRepository) HeaderRow(ctx context.Context, tab string) ([]string, error) {
	if err := r.requireTab(ctx, r.queries, tab); err != nil {
		return nil, err
	}
	rows, err := r.queries.ListHeaders(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("list headers of %q: %w", tab, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]string, rows[len(rows)-1].Col+1)
	for _, h := range rows {
		out[h.Col] = h.Name
	}
	return out, nil
}

// FetchRange implements sheets.RangeReader.
func (r *SQLiteRepository) FetchRange(ctx context.Context, tab string, rect ledger.Rect) (ledger.Grid, error) {
	if err := r.requireTab(ctx, r.queries, tab); err != nil {
		return ledger.Grid{}, err
	}
	rows, err := r.queries.ListCellsInRect(ctx, ListCellsInRectParams{
		Tab:    tab,
		MinRow: int64(rect.MinRow),
		MaxRow: int64(rect.MaxRow),
		MinCol: int64(rect.MinCol),
		MaxCol: int64(rect.MaxCol),
	})
	if err != nil {
		return ledger.Grid{}, fmt.Errorf("read %s: %w", rect.A1(tab), err)
	}
	grid := ledger.NewGrid(rect)
	for _, c := range rows {
		st, err := cellFromRow(c)
		if err != nil {
			return ledger.Grid{}, fmt.Errorf("read %s: %w", rect.A1(tab), err)
		}
		grid.Set(int(c.Row), int(c.Col), st)
	}
	return grid, nil
}

// Persist implements sheets.RangeWriter. All updates commit in one transaction.
func (r *SQLiteRepository) Persist(ctx context.Context, tab string, updates []ledger.CellUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := r.requireTab(ctx, q, tab); err != nil {
		return err
	}
	for _, u := range updates {
		if u.State.Kind == ledger.Empty {
			if err := q.DeleteCell(ctx, tab, int64(u.Row), int64(u.Col)); err != nil {
				return fmt.Errorf("clear %s%d: %w", ledger.ColumnName(u.Col), u.Row+1, err)
			}
			continue
		}
		err := q.UpsertCell(ctx, UpsertCellParams{Tab: tab, CellRow: rowFromCell(u)})
		if err != nil {
			return fmt.Errorf("write %s%d: %w", ledger.ColumnName(u.Col), u.Row+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendEntries implements recorder.Journal.
func (r *SQLiteRepository) AppendEntries(ctx context.Context, batchID string, entries []core.RecordedEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for _, e := range entries {
		err := q.InsertJournalEntry(ctx, JournalRow{
			BatchID:     batchID,
			Tab:         e.Tab,
			Row:         int64(e.Row),
			Col:         int64(e.Column),
			Description: e.Description,
			Amount:      e.Amount,
			Category:    e.Category,
			ExpenseDate: e.Date,
		})
		if err != nil {
			return fmt.Errorf("journal %q: %w", e.Description, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.DebugContext(ctx, "Journaled entries",
		applog.FieldOperation, applog.OpJournal,
		applog.FieldBatchID, batchID,
		applog.FieldRecorded, len(entries))
	return nil
}

// JournalEntries returns the entries recorded by one batch in insertion order.
func (r *SQLiteRepository) JournalEntries(ctx context.Context, batchID string) ([]core.RecordedEntry, error) {
	rows, err := r.queries.ListJournalByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list journal of %s: %w", batchID, err)
	}
	out := make([]core.RecordedEntry, len(rows))
	for i, j := range rows {
		out[i] = core.RecordedEntry{
			ExpenseRecord: core.ExpenseRecord{
				Description: j.Description,
				Amount:      j.Amount,
				Category:    j.Category,
				Date:        j.ExpenseDate,
			},
			CellRef: core.CellRef{
				Tab:    j.Tab,
				Row:    int(j.Row),
				Column: int(j.Col),
				A1:     ledger.Cell{Row: int(j.Row), Col: int(j.Col)}.A1(),
			},
		}
	}
	return out, nil
}

func cellFromRow(c CellRow) (ledger.CellState, error) {
	switch c.Kind {
	case ledger.Plain.String():
		return ledger.PlainCell(c.Value, c.Note), nil
	case ledger.Formula.String():
		return ledger.FormulaCell(c.Formula, c.Note), nil
	}
	return ledger.CellState{}, fmt.Errorf("%s%d: unknown cell kind %q", ledger.ColumnName(int(c.Col)), c.Row+1, c.Kind)
}

func rowFromCell(u ledger.CellUpdate) CellRow {
	row := CellRow{
		Row:  int64(u.Row),
		Col:  int64(u.Col),
		Kind: u.State.Kind.String(),
		Note: u.State.Note,
	}
	switch u.State.Kind {
	case ledger.Plain:
		row.Value = u.State.Value
	case ledger.Formula:
		row.Formula = u.State.Formula
	}
	return row
}
