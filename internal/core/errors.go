package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrUnknownCategory = errors.New("unknown category")
	ErrTabNotFound     = errors.New("tab not found")
	ErrCellNotNumeric  = errors.New("target cell is not numeric")
	ErrPersistFailure  = errors.New("persist failure")
	ErrNothingRecorded = errors.New("no expense could be recorded")
)

// ErrorKind classifies a per-record recording problem.
type ErrorKind string

const (
	KindInvalidDate     ErrorKind = "invalid_date"
	KindUnknownCategory ErrorKind = "unknown_category"
	KindTabNotFound     ErrorKind = "tab_not_found"
	KindCellNotNumeric  ErrorKind = "cell_not_numeric"
)

// RecordingError is a recoverable problem tied to exactly one record of a batch.
type RecordingError struct {
	Kind    ErrorKind     `json:"kind"`
	Record  ExpenseRecord `json:"record"`
	Tab     string        `json:"tab,omitempty"`
	Message string        `json:"message"`
}

func (e RecordingError) Error() string {
	return e.Message
}

func (e RecordingError) Unwrap() error {
	switch e.Kind {
	case KindInvalidDate:
		return ErrInvalidDate
	case KindUnknownCategory:
		return ErrUnknownCategory
	case KindTabNotFound:
		return ErrTabNotFound
	case KindCellNotNumeric:
		return ErrCellNotNumeric
	}
	return nil
}

func NewInvalidDateError(rec ExpenseRecord) RecordingError {
	return RecordingError{
		Kind:    KindInvalidDate,
		Record:  rec,
		Message: fmt.Sprintf("Ngày không hợp lệ: %q cho %q", rec.Date, rec.Description),
	}
}

func NewUnknownCategoryError(rec ExpenseRecord, tab string, available []string) RecordingError {
	return RecordingError{
		Kind:    KindUnknownCategory,
		Record:  rec,
		Tab:     tab,
		Message: fmt.Sprintf("Category %q không có trên sheet. Các category có sẵn: %s", rec.Category, strings.Join(available, ", ")),
	}
}

func NewTabNotFoundError(rec ExpenseRecord, tab string) RecordingError {
	return RecordingError{
		Kind:    KindTabNotFound,
		Record:  rec,
		Tab:     tab,
		Message: TabNotFoundMessage(tab),
	}
}

// NewCellNotNumericError reports a record whose target cell holds text the
// ledger cannot add to. The cell is left as it is.
func NewCellNotNumericError(rec ExpenseRecord, tab, a1, raw string) RecordingError {
	return RecordingError{
		Kind:    KindCellNotNumeric,
		Record:  rec,
		Tab:     tab,
		Message: fmt.Sprintf("Ô %s của sheet %q đang chứa %q, không phải số. Không ghi được %q.", a1, tab, raw, rec.Description),
	}
}

// TabNotFoundMessage is the user-facing text for a month tab that was never provisioned.
func TabNotFoundMessage(tab string) string {
	return fmt.Sprintf("Sheet tab %q không tồn tại. Hãy tạo tab %q trên Google Sheet.", tab, tab)
}

// PersistError reports that writing one tab group to the grid store failed.
// Groups persisted before it are not rolled back.
type PersistError struct {
	Tab string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist tab %q: %v", e.Tab, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailure, e.Err}
}

// BatchError is returned when every record of a batch was rejected.
type BatchError struct {
	Errors []RecordingError
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, re := range e.Errors {
		msgs[i] = re.Message
	}
	return strings.Join(msgs, "\n")
}

func (e *BatchError) Unwrap() error {
	return ErrNothingRecorded
}
