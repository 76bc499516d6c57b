// Package ledger maps expense dates onto the month/day/category grid and
// merges amounts into individual cells.
//
// Layout of one month tab:
//
//	row 0        header: column 0 reserved for the day label, then categories
//	row 1        reserved
//	rows 2..32   days 1..31
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"extrack/internal/core"
)

const (
	// HeaderRow is the row carrying category names.
	HeaderRow = 0
	// RowOffset shifts a day of month onto its grid row.
	RowOffset = 1
	// LabelColumn holds the day label and never maps to a category.
	LabelColumn = 0
)

// Date is a parsed day/month/year triple. No calendar validation is implied.
type Date struct {
	Day   int
	Month int
	Year  int
}

// ParseDate accepts "D/M/YYYY" with exactly three integer parts and a day in [1,31].
// "31/04/2025" is accepted: the day is only range-checked.
func ParseDate(raw string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q: want day/month/year", core.ErrInvalidDate, raw)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Date{}, fmt.Errorf("%w: %q: %v", core.ErrInvalidDate, raw, err)
		}
		nums[i] = n
	}
	d := Date{Day: nums[0], Month: nums[1], Year: nums[2]}
	if d.Day < 1 || d.Day > 31 {
		return Date{}, fmt.Errorf("%w: %q: day %d out of range", core.ErrInvalidDate, raw, d.Day)
	}
	return d, nil
}

// ParseDateStrict additionally rejects days that do not exist in the month.
func ParseDateStrict(raw string) (Date, error) {
	d, err := ParseDate(raw)
	if err != nil {
		return Date{}, err
	}
	if d.Month < 1 || d.Month > 12 {
		return Date{}, fmt.Errorf("%w: %q: month %d out of range", core.ErrInvalidDate, raw, d.Month)
	}
	if d.Day > daysIn(d.Year, d.Month) {
		return Date{}, fmt.Errorf("%w: %q: %02d/%d has %d days", core.ErrInvalidDate, raw, d.Month, d.Year, daysIn(d.Year, d.Month))
	}
	return d, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// TabLabelFor returns the label of the month tab holding d, e.g. "02/2025".
func TabLabelFor(d Date) string {
	return fmt.Sprintf("%02d/%d", d.Month, d.Year)
}

// ParseTabLabel splits a "MM/YYYY" label into month and year.
func ParseTabLabel(label string) (month, year int, err error) {
	m, y, ok := strings.Cut(label, "/")
	if !ok {
		return 0, 0, fmt.Errorf("tab label %q: want MM/YYYY", label)
	}
	if month, err = strconv.Atoi(m); err != nil {
		return 0, 0, fmt.Errorf("tab label %q: %w", label, err)
	}
	if year, err = strconv.Atoi(y); err != nil {
		return 0, 0, fmt.Errorf("tab label %q: %w", label, err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("tab label %q: month out of range", label)
	}
	return month, year, nil
}

// RowFor returns the grid row of d's day.
func RowFor(d Date) int {
	return d.Day + RowOffset
}

// CurrentTabLabel returns the tab label of the month containing now.
func CurrentTabLabel(now time.Time) string {
	return TabLabelFor(Date{Day: now.Day(), Month: int(now.Month()), Year: now.Year()})
}

// Resolver turns raw record dates into tab labels and rows.
type Resolver struct {
	strict bool
}

// NewResolver returns a resolver. With strict set, impossible calendar days are rejected.
func NewResolver(strict bool) Resolver {
	return Resolver{strict: strict}
}

// Resolve parses raw and returns its tab label and row.
func (r Resolver) Resolve(raw string) (tab string, row int, err error) {
	parse := ParseDate
	if r.strict {
		parse = ParseDateStrict
	}
	d, err := parse(raw)
	if err != nil {
		return "", 0, err
	}
	return TabLabelFor(d), RowFor(d), nil
}
