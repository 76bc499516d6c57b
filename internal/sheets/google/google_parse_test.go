package google

import (
	"testing"

	gsheet "google.golang.org/api/sheets/v4"

	"extrack/internal/ledger"
)

func num(f float64) *gsheet.ExtendedValue    { return &gsheet.ExtendedValue{NumberValue: &f} }
func str(s string) *gsheet.ExtendedValue     { return &gsheet.ExtendedValue{StringValue: &s} }
func formula(s string) *gsheet.ExtendedValue { return &gsheet.ExtendedValue{FormulaValue: &s} }

func TestCellState(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		in   *gsheet.CellData
		want ledger.CellState
	}{
		{name: "nil", in: nil, want: ledger.EmptyCell()},
		{name: "no value", in: &gsheet.CellData{}, want: ledger.EmptyCell()},
		{name: "integer", in: &gsheet.CellData{UserEnteredValue: num(20000), Note: "bánh mì"}, want: ledger.PlainCell(20000, "bánh mì")},
		{name: "fraction", in: &gsheet.CellData{UserEnteredValue: num(12.5)}, want: ledger.FormulaCell("= 12.5", "")},
		{name: "formula", in: &gsheet.CellData{UserEnteredValue: formula("= 1 + 2"), Note: "a, b"}, want: ledger.FormulaCell("= 1 + 2", "a, b")},
		{name: "numeric text", in: &gsheet.CellData{UserEnteredValue: str(" 300 ")}, want: ledger.PlainCell(300, "")},
		{name: "blank text", in: &gsheet.CellData{UserEnteredValue: str("  ")}, want: ledger.EmptyCell()},
		{name: "text", in: &gsheet.CellData{UserEnteredValue: str("abc"), Note: "n"}, want: ledger.TextCell("abc", "n")},
		{name: "bool", in: &gsheet.CellData{UserEnteredValue: &gsheet.ExtendedValue{BoolValue: &yes}}, want: ledger.TextCell("TRUE", "")},
		{name: "error", in: &gsheet.CellData{UserEnteredValue: &gsheet.ExtendedValue{ErrorValue: &gsheet.ErrorValue{Type: "DIVIDE_BY_ZERO"}}}, want: ledger.TextCell("DIVIDE_BY_ZERO", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cellState(tt.in); got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCellDataRendersMergedState(t *testing.T) {
	plain := cellData(ledger.PlainCell(50000, "ăn phở"))
	if plain.UserEnteredValue.NumberValue == nil || *plain.UserEnteredValue.NumberValue != 50000 || plain.Note != "ăn phở" {
		t.Fatalf("unexpected plain cell data %+v", plain)
	}

	f := cellData(ledger.FormulaCell("= 20000 + 50000", "bánh mì, ăn phở"))
	if f.UserEnteredValue.FormulaValue == nil || *f.UserEnteredValue.FormulaValue != "= 20000 + 50000" {
		t.Fatalf("unexpected formula cell data %+v", f)
	}
	if f.UserEnteredValue.NumberValue != nil {
		t.Fatal("formula cell must not carry a number value")
	}
}

func TestGridFromResponseOffsets(t *testing.T) {
	rect := ledger.Rect{MinRow: 10, MaxRow: 11, MinCol: 1, MaxCol: 2}
	resp := &gsheet.Spreadsheet{Sheets: []*gsheet.Sheet{{
		Data: []*gsheet.GridData{{
			StartRow:    10,
			StartColumn: 1,
			RowData: []*gsheet.RowData{
				{Values: []*gsheet.CellData{{UserEnteredValue: num(20000), Note: "x"}, {}}},
				{Values: []*gsheet.CellData{nil, {UserEnteredValue: formula("= 1 + 1")}}},
			},
		}},
	}}}

	grid := gridFromResponse(resp, rect)
	if st, _ := grid.At(10, 1); st != ledger.PlainCell(20000, "x") {
		t.Fatalf("B11: got %+v", st)
	}
	if st, _ := grid.At(11, 2); st != ledger.FormulaCell("= 1 + 1", "") {
		t.Fatalf("C12: got %+v", st)
	}
	if st, ok := grid.At(10, 2); !ok || st.Kind != ledger.Empty {
		t.Fatalf("C11: got %+v ok=%v", st, ok)
	}

	text := &gsheet.Spreadsheet{Sheets: []*gsheet.Sheet{{Data: []*gsheet.GridData{{
		StartRow: 10, StartColumn: 1,
		RowData: []*gsheet.RowData{{Values: []*gsheet.CellData{{UserEnteredValue: str("n/a")}}}},
	}}}}}
	if st, _ := gridFromResponse(text, rect).At(10, 1); st != ledger.TextCell("n/a", "") {
		t.Fatalf("text cell: got %+v", st)
	}
}

func TestUpdateRequests(t *testing.T) {
	reqs := updateRequests(0, []ledger.CellUpdate{
		{Row: 10, Col: 1, State: ledger.PlainCell(1, "a")},
		{Row: 2, Col: 3, State: ledger.FormulaCell("= 1 + 2", "b, c")},
	})
	if len(reqs) != 2 {
		t.Fatalf("want 2 requests, got %d", len(reqs))
	}
	uc := reqs[1].UpdateCells
	if uc.Start.RowIndex != 2 || uc.Start.ColumnIndex != 3 || uc.Fields != cellFields {
		t.Fatalf("unexpected request %+v", uc)
	}
	if len(uc.Start.ForceSendFields) == 0 {
		t.Fatal("sheetId 0 must still be sent")
	}
}
