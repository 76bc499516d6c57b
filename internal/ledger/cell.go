package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CellKind tags the possible contents of a ledger cell. Text marks a cell
// the user filled with something other than a number or formula; nothing
// can be added to it.
type CellKind int

const (
	Empty CellKind = iota
	Plain
	Formula
	Text
)

func (k CellKind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Plain:
		return "plain"
	case Formula:
		return "formula"
	case Text:
		return "text"
	}
	return fmt.Sprintf("CellKind(%d)", int(k))
}

// CellState is the persisted content of one cell plus its note.
// Value is meaningful only for Plain, Formula only for Formula and Raw only
// for Text.
type CellState struct {
	Kind    CellKind
	Value   int64
	Formula string
	Raw     string
	Note    string
}

func EmptyCell() CellState {
	return CellState{Kind: Empty}
}

func PlainCell(v int64, note string) CellState {
	return CellState{Kind: Plain, Value: v, Note: note}
}

func FormulaCell(expr, note string) CellState {
	return CellState{Kind: Formula, Formula: expr, Note: note}
}

func TextCell(raw, note string) CellState {
	return CellState{Kind: Text, Raw: raw, Note: note}
}

// Accepts reports whether amounts can be merged into the cell.
func (c CellState) Accepts() bool {
	return c.Kind != Text
}

// Merge adds amount to the cell and appends description to its note.
//
//	empty         -> plain amount
//	formula f     -> f + amount
//	plain v       -> = v + amount
//
// A Text cell is returned unchanged; callers check Accepts first.
func Merge(cur CellState, amount int64, description string) CellState {
	switch cur.Kind {
	case Empty:
		return PlainCell(amount, description)
	case Formula:
		return FormulaCell(fmt.Sprintf("%s + %d", cur.Formula, amount), appendNote(cur.Note, description))
	case Text:
		return cur
	default:
		return FormulaCell(fmt.Sprintf("= %d + %d", cur.Value, amount), appendNote(cur.Note, description))
	}
}

func appendNote(prior, description string) string {
	if prior == "" {
		return description
	}
	return prior + ", " + description
}

var (
	ErrUnsupportedFormula = errors.New("unsupported formula")
	ErrNotNumeric         = errors.New("cell is not numeric")
)

// Total evaluates the cell. Only the additive formulas produced by Merge are understood.
func (c CellState) Total() (int64, error) {
	switch c.Kind {
	case Empty:
		return 0, nil
	case Plain:
		return c.Value, nil
	case Text:
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, c.Raw)
	}
	expr := strings.TrimSpace(c.Formula)
	expr = strings.TrimSpace(strings.TrimPrefix(expr, "="))
	var sum int64
	for _, term := range strings.Split(expr, "+") {
		n, err := strconv.ParseInt(strings.TrimSpace(term), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormula, c.Formula)
		}
		sum += n
	}
	return sum, nil
}
