package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type CellRow struct {
	Row     int64
	Col     int64
	Kind    string
	Value   int64
	Formula string
	Note    string
}

type JournalRow struct {
	ID          int64
	BatchID     string
	Tab         string
	Row         int64
	Col         int64
	Description string
	Amount      int64
	Category    string
	ExpenseDate string
}

const tabExists = `SELECT EXISTS(SELECT 1 FROM ledger_tabs WHERE label = ?)`

func (q *Queries) TabExists(ctx context.Context, label string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, tabExists, label).Scan(&exists)
	return exists, err
}

const listTabs = `SELECT label FROM ledger_tabs ORDER BY substr(label, 4) || substr(label, 1, 2)`

func (q *Queries) ListTabs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listTabs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		items = append(items, label)
	}
	return items, rows.Err()
}

const insertTab = `INSERT INTO ledger_tabs (label) VALUES (?) ON CONFLICT (label) DO NOTHING`

func (q *Queries) InsertTab(ctx context.Context, label string) error {
	_, err := q.db.ExecContext(ctx, insertTab, label)
	return err
}

const deleteHeaders = `DELETE FROM ledger_headers WHERE tab = ?`

func (q *Queries) DeleteHeaders(ctx context.Context, tab string) error {
	_, err := q.db.ExecContext(ctx, deleteHeaders, tab)
	return err
}

const insertHeader = `INSERT INTO ledger_headers (tab, col, name) VALUES (?, ?, ?)`

func (q *Queries) InsertHeader(ctx context.Context, tab string, col int64, name string) error {
	_, err := q.db.ExecContext(ctx, insertHeader, tab, col, name)
	return err
}

const listHeaders = `SELECT col, name FROM ledger_headers WHERE tab = ? ORDER BY col`

type HeaderRow struct {
	Col  int64
	Name string
}

func (q *Queries) ListHeaders(ctx context.Context, tab string) ([]HeaderRow, error) {
	rows, err := q.db.QueryContext(ctx, listHeaders, tab)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HeaderRow
	for rows.Next() {
		var i HeaderRow
		if err := rows.Scan(&i.Col, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listCellsInRect = `SELECT row, col, kind, value, formula, note
FROM ledger_cells
WHERE tab = ? AND row BETWEEN ? AND ? AND col BETWEEN ? AND ?`

type ListCellsInRectParams struct {
	Tab    string
	MinRow int64
	MaxRow int64
	MinCol int64
	MaxCol int64
}

func (q *Queries) ListCellsInRect(ctx context.Context, arg ListCellsInRectParams) ([]CellRow, error) {
	rows, err := q.db.QueryContext(ctx, listCellsInRect, arg.Tab, arg.MinRow, arg.MaxRow, arg.MinCol, arg.MaxCol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CellRow
	for rows.Next() {
		var i CellRow
		if err := rows.Scan(&i.Row, &i.Col, &i.Kind, &i.Value, &i.Formula, &i.Note); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertCell = `INSERT INTO ledger_cells (tab, row, col, kind, value, formula, note)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tab, row, col) DO UPDATE SET
    kind = excluded.kind,
    value = excluded.value,
    formula = excluded.formula,
    note = excluded.note,
    updated_at = CURRENT_TIMESTAMP`

type UpsertCellParams struct {
	Tab string
	CellRow
}

func (q *Queries) UpsertCell(ctx context.Context, arg UpsertCellParams) error {
	_, err := q.db.ExecContext(ctx, upsertCell, arg.Tab, arg.Row, arg.Col, arg.Kind, arg.Value, arg.Formula, arg.Note)
	return err
}

const deleteCell = `DELETE FROM ledger_cells WHERE tab = ? AND row = ? AND col = ?`

func (q *Queries) DeleteCell(ctx context.Context, tab string, row, col int64) error {
	_, err := q.db.ExecContext(ctx, deleteCell, tab, row, col)
	return err
}

const insertJournalEntry = `INSERT INTO journal (batch_id, tab, row, col, description, amount, category, expense_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertJournalEntry(ctx context.Context, arg JournalRow) error {
	_, err := q.db.ExecContext(ctx, insertJournalEntry,
		arg.BatchID, arg.Tab, arg.Row, arg.Col, arg.Description, arg.Amount, arg.Category, arg.ExpenseDate)
	return err
}

const listJournalByBatch = `SELECT id, batch_id, tab, row, col, description, amount, category, expense_date
FROM journal WHERE batch_id = ? ORDER BY id`

func (q *Queries) ListJournalByBatch(ctx context.Context, batchID string) ([]JournalRow, error) {
	rows, err := q.db.QueryContext(ctx, listJournalByBatch, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []JournalRow
	for rows.Next() {
		var i JournalRow
		if err := rows.Scan(&i.ID, &i.BatchID, &i.Tab, &i.Row, &i.Col, &i.Description, &i.Amount, &i.Category, &i.ExpenseDate); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
