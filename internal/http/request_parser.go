// Package http serves the recording engine over a small JSON API.
//
// This file implements request decoding: record batches, tab labels and
// the date/category pair used to locate a cell.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"extrack/internal/core"
	"extrack/internal/ledger"
)

// maxBodyBytes bounds a record request body.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// ParseRecordRequest decodes a batch of expenses. The body is either a JSON
// array of records or an object with an "expenses" array. Descriptions and
// categories are sanitized; dates are kept verbatim for the resolver.
func ParseRecordRequest(r *http.Request) ([]core.ExpenseRecord, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}

	var expenses []core.ExpenseRecord
	switch body[0] {
	case '[':
		err = json.Unmarshal(body, &expenses)
	case '{':
		var wrapped struct {
			Expenses *[]core.ExpenseRecord `json:"expenses"`
		}
		err = json.Unmarshal(body, &wrapped)
		if err == nil && wrapped.Expenses == nil {
			err = errors.New(`missing "expenses" array`)
		}
		if err == nil {
			expenses = *wrapped.Expenses
		}
	default:
		err = errors.New("expected a JSON array or object")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid record batch: %w", err)
	}

	for i := range expenses {
		expenses[i].Description = sanitizeInput(expenses[i].Description)
		expenses[i].Category = sanitizeInput(expenses[i].Category)
		expenses[i].Date = strings.TrimSpace(expenses[i].Date)
	}
	return expenses, nil
}

// ParseTabParam returns the "tab" query value, defaulting to the month of
// now. A malformed label is an error.
func ParseTabParam(query url.Values, now time.Time) (string, error) {
	tab := strings.TrimSpace(query.Get("tab"))
	if tab == "" {
		return ledger.CurrentTabLabel(now), nil
	}
	if _, _, err := ledger.ParseTabLabel(tab); err != nil {
		return "", fmt.Errorf("invalid tab %q: expected MM/YYYY", tab)
	}
	return tab, nil
}

// CellQuery locates one ledger cell by record date and category name.
type CellQuery struct {
	Date     string
	Category string
}

// ParseCellQuery reads the "date" and "category" query values.
func ParseCellQuery(query url.Values) (CellQuery, error) {
	q := CellQuery{
		Date:     strings.TrimSpace(query.Get("date")),
		Category: sanitizeInput(query.Get("category")),
	}
	if q.Date == "" || q.Category == "" {
		return CellQuery{}, errors.New("date and category are required")
	}
	return q, nil
}

// IsAsync reports whether the caller asked for the batch to be queued.
func IsAsync(query url.Values) bool {
	switch strings.ToLower(strings.TrimSpace(query.Get("async"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
