package core

import "errors"

type (
	// ExpenseRecord is one structured expense produced by the extraction step.
	// Date is kept verbatim in day/month/year form; the ledger resolves it.
	ExpenseRecord struct {
		Description string `json:"description"`
		Amount      int64  `json:"amount"` // whole currency units
		Category    string `json:"category"`
		Date        string `json:"date"`
	}

	// CellRef addresses one cell of a month tab. Row and Column are zero-based;
	// A1 is the same cell in sheet notation (day 9 -> row 10 -> "B11").
	CellRef struct {
		Tab    string `json:"tab"`
		Row    int    `json:"row"`
		Column int    `json:"column"`
		A1     string `json:"a1"`
	}

	// RecordedEntry echoes a record together with the cell it was merged into.
	RecordedEntry struct {
		ExpenseRecord
		CellRef
	}
)

var ErrInvalidAmount = errors.New("invalid amount")

// Validate checks the input contract of a record. A failure here is not a
// per-record recording error: the whole batch is rejected.
func (e ExpenseRecord) Validate() error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
