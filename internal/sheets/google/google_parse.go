package google

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	gsheet "google.golang.org/api/sheets/v4"

	"extrack/internal/ledger"
)

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// gridFromResponse converts the grid data of a single-range Spreadsheets.Get
// into a ledger.Grid covering rect. Cells the API omits are empty; cells the
// engine cannot add to come back as Text so only records aimed at them fail.
func gridFromResponse(resp *gsheet.Spreadsheet, rect ledger.Rect) ledger.Grid {
	grid := ledger.NewGrid(rect)
	if resp == nil || len(resp.Sheets) == 0 {
		return grid
	}
	for _, data := range resp.Sheets[0].Data {
		for i, row := range data.RowData {
			if row == nil {
				continue
			}
			for j, cd := range row.Values {
				r, col := int(data.StartRow)+i, int(data.StartColumn)+j
				if !rect.Contains(ledger.Cell{Row: r, Col: col}) {
					continue
				}
				if st := cellState(cd); st.Kind != ledger.Empty {
					grid.Set(r, col, st)
				}
			}
		}
	}
	return grid
}

// cellState classifies a cell by what the user entered.
func cellState(cd *gsheet.CellData) ledger.CellState {
	if cd == nil || cd.UserEnteredValue == nil {
		return ledger.EmptyCell()
	}
	v := cd.UserEnteredValue
	switch {
	case v.FormulaValue != nil:
		return ledger.FormulaCell(*v.FormulaValue, cd.Note)
	case v.NumberValue != nil:
		n := *v.NumberValue
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return ledger.PlainCell(int64(n), cd.Note)
		}
		return ledger.FormulaCell("= "+strconv.FormatFloat(n, 'f', -1, 64), cd.Note)
	case v.StringValue != nil:
		s := strings.TrimSpace(*v.StringValue)
		if s == "" {
			return ledger.EmptyCell()
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ledger.PlainCell(n, cd.Note)
		}
		return ledger.TextCell(s, cd.Note)
	case v.BoolValue != nil:
		return ledger.TextCell(strings.ToUpper(strconv.FormatBool(*v.BoolValue)), cd.Note)
	case v.ErrorValue != nil:
		return ledger.TextCell(v.ErrorValue.Type, cd.Note)
	default:
		return ledger.EmptyCell()
	}
}

// cellData renders a merged cell state for an UpdateCells request.
func cellData(st ledger.CellState) *gsheet.CellData {
	cd := &gsheet.CellData{Note: st.Note, UserEnteredValue: &gsheet.ExtendedValue{}}
	switch st.Kind {
	case ledger.Plain:
		n := float64(st.Value)
		cd.UserEnteredValue.NumberValue = &n
	case ledger.Formula:
		f := st.Formula
		cd.UserEnteredValue.FormulaValue = &f
	case ledger.Text:
		t := st.Raw
		cd.UserEnteredValue.StringValue = &t
	}
	return cd
}

func updateRequests(sheetID int64, updates []ledger.CellUpdate) []*gsheet.Request {
	reqs := make([]*gsheet.Request, 0, len(updates))
	for _, u := range updates {
		reqs = append(reqs, &gsheet.Request{
			UpdateCells: &gsheet.UpdateCellsRequest{
				Start: &gsheet.GridCoordinate{
					SheetId:         sheetID,
					RowIndex:        int64(u.Row),
					ColumnIndex:     int64(u.Col),
					ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
				},
				Rows:   []*gsheet.RowData{{Values: []*gsheet.CellData{cellData(u.State)}}},
				Fields: cellFields,
			},
		})
	}
	return reqs
}
