package ledger

import (
	"fmt"
	"strings"
)

// Cell is a (row, column) position, both zero-based.
type Cell struct {
	Row int
	Col int
}

// Rect is an inclusive rectangle of cells.
type Rect struct {
	MinRow, MaxRow int
	MinCol, MaxCol int
}

// BoundingRect returns the smallest rectangle covering all cells.
// ok is false when cells is empty.
func BoundingRect(cells []Cell) (r Rect, ok bool) {
	if len(cells) == 0 {
		return Rect{}, false
	}
	r = Rect{MinRow: cells[0].Row, MaxRow: cells[0].Row, MinCol: cells[0].Col, MaxCol: cells[0].Col}
	for _, c := range cells[1:] {
		r.MinRow = min(r.MinRow, c.Row)
		r.MaxRow = max(r.MaxRow, c.Row)
		r.MinCol = min(r.MinCol, c.Col)
		r.MaxCol = max(r.MaxCol, c.Col)
	}
	return r, true
}

// A1 renders the cell in A1 notation, e.g. B11 for row 10, column 1.
func (c Cell) A1() string {
	return fmt.Sprintf("%s%d", ColumnName(c.Col), c.Row+1)
}

func (r Rect) Contains(c Cell) bool {
	return c.Row >= r.MinRow && c.Row <= r.MaxRow && c.Col >= r.MinCol && c.Col <= r.MaxCol
}

func (r Rect) Rows() int { return r.MaxRow - r.MinRow + 1 }
func (r Rect) Cols() int { return r.MaxCol - r.MinCol + 1 }

// A1 renders the rectangle in A1 notation qualified by tab, e.g. 'MM/YYYY'!B3:D11.
func (r Rect) A1(tab string) string {
	return fmt.Sprintf("%s!%s%d:%s%d", QuoteTab(tab), ColumnName(r.MinCol), r.MinRow+1, ColumnName(r.MaxCol), r.MaxRow+1)
}

// QuoteTab quotes a tab title for use in an A1 range.
func QuoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// ColumnName converts a zero-based column index to letters: 0 -> A, 26 -> AA.
func ColumnName(col int) string {
	name := ""
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		name = string(rune('A'+(n-1)%26)) + name
	}
	return name
}

// Grid is the content of a fetched rectangle. Cells missing from the map are empty.
type Grid struct {
	Rect  Rect
	Cells map[Cell]CellState
}

func NewGrid(r Rect) Grid {
	return Grid{Rect: r, Cells: make(map[Cell]CellState)}
}

// At returns the state of (row, col); cells outside the rectangle report ok=false.
func (g Grid) At(row, col int) (CellState, bool) {
	c := Cell{Row: row, Col: col}
	if !g.Rect.Contains(c) {
		return CellState{}, false
	}
	if s, found := g.Cells[c]; found {
		return s, true
	}
	return EmptyCell(), true
}

// Set stores s at (row, col).
func (g Grid) Set(row, col int, s CellState) {
	g.Cells[Cell{Row: row, Col: col}] = s
}

// CellUpdate is one staged cell change.
type CellUpdate struct {
	Row   int
	Col   int
	State CellState
}
