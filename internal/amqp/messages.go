package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"extrack/internal/core"
)

// RecordBatchMessage carries one batch of expense records to the recording worker
type RecordBatchMessage struct {
	BatchID   string               `json:"batch_id"`
	Expenses  []core.ExpenseRecord `json:"expenses"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewRecordBatchMessage wraps expenses in a message with a fresh batch id
func NewRecordBatchMessage(expenses []core.ExpenseRecord) *RecordBatchMessage {
	return &RecordBatchMessage{
		BatchID:   uuid.NewString(),
		Expenses:  expenses,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecordBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordBatchMessageFromJSON decodes a batch message. A message without an
// expenses array is malformed.
func RecordBatchMessageFromJSON(data []byte) (*RecordBatchMessage, error) {
	var raw struct {
		BatchID   string                `json:"batch_id"`
		Expenses  *[]core.ExpenseRecord `json:"expenses"`
		Timestamp time.Time             `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Expenses == nil {
		return nil, errors.New("missing expenses")
	}
	msg := &RecordBatchMessage{BatchID: raw.BatchID, Expenses: *raw.Expenses, Timestamp: raw.Timestamp}
	if msg.BatchID == "" {
		msg.BatchID = uuid.NewString()
	}
	return msg, nil
}

// ResultStatus summarises how a batch fared
type ResultStatus string

const (
	// StatusRecorded: every record was merged into the ledger.
	StatusRecorded ResultStatus = "recorded"
	// StatusPartial: some records were merged, others reported in errors.
	StatusPartial ResultStatus = "partial"
	// StatusRejected: nothing was recorded; the batch or all its records were invalid.
	StatusRejected ResultStatus = "rejected"
	// StatusFailed: the grid store failed; earlier tab groups may be recorded.
	StatusFailed ResultStatus = "failed"
)

// RecordResultMessage is published to the ReplyTo queue of a batch delivery
type RecordResultMessage struct {
	BatchID   string                `json:"batch_id"`
	Status    ResultStatus          `json:"status"`
	Recorded  []core.RecordedEntry  `json:"recorded"`
	Errors    []core.RecordingError `json:"errors"`
	Failure   string                `json:"failure,omitempty"`
	Reply     string                `json:"reply"`
	Timestamp time.Time             `json:"timestamp"`
}

// NewRecordResultMessage classifies the outcome and error of one Record call
func NewRecordResultMessage(batchID string, out core.Outcome, err error) *RecordResultMessage {
	msg := &RecordResultMessage{
		BatchID:   batchID,
		Recorded:  out.Recorded,
		Errors:    out.Errors,
		Reply:     out.Reply(),
		Timestamp: time.Now(),
	}
	var batchErr *core.BatchError
	switch {
	case err == nil && len(out.Errors) == 0:
		msg.Status = StatusRecorded
	case err == nil:
		msg.Status = StatusPartial
	case errors.As(err, &batchErr):
		msg.Status = StatusRejected
		msg.Errors = batchErr.Errors
		msg.Reply = core.Outcome{Errors: batchErr.Errors}.Reply()
	case errors.Is(err, core.ErrInvalidAmount):
		msg.Status = StatusRejected
		msg.Failure = err.Error()
	default:
		msg.Status = StatusFailed
		msg.Failure = err.Error()
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *RecordResultMessage) ToJSON() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal result %s: %w", m.BatchID, err)
	}
	return b, nil
}
