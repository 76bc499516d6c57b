package worker

import (
	"context"
	"time"

	"extrack/internal/amqp"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	"extrack/internal/recorder"
)

// BatchRecorder records one batch of expenses into the ledger.
type BatchRecorder interface {
	Record(ctx context.Context, expenses []core.ExpenseRecord) (core.Outcome, error)
}

// CategoryWarmer preloads the category map of a tab.
type CategoryWarmer interface {
	CategoriesFor(ctx context.Context, tab string) ([]string, error)
}

// RecordWorker handles record batches delivered over AMQP
type RecordWorker struct {
	recorder BatchRecorder
	warmer   CategoryWarmer
	logger   *applog.Logger
	now      func() time.Time
}

func NewRecordWorker(recorder BatchRecorder, warmer CategoryWarmer, logger *applog.Logger) *RecordWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &RecordWorker{
		recorder: recorder,
		warmer:   warmer,
		logger:   logger.WithComponent(applog.ComponentWorker),
		now:      time.Now,
	}
}

// HandleBatch records msg and reports the outcome. Failures are reported in
// the result rather than returned, so the delivery is never redelivered.
func (w *RecordWorker) HandleBatch(ctx context.Context, msg *amqp.RecordBatchMessage) *amqp.RecordResultMessage {
	log := w.logger.With(applog.FieldBatchID, msg.BatchID)
	log.InfoContext(ctx, "Processing record batch", applog.FieldRecords, len(msg.Expenses))

	out, err := w.recorder.Record(recorder.ContextWithBatchID(ctx, msg.BatchID), msg.Expenses)
	result := amqp.NewRecordResultMessage(msg.BatchID, out, err)

	switch result.Status {
	case amqp.StatusFailed:
		log.ErrorContext(ctx, "Record batch failed",
			applog.FieldRecorded, len(out.Recorded),
			applog.FieldError, err)
	case amqp.StatusRejected:
		log.WarnContext(ctx, "Record batch rejected",
			applog.FieldErrors, len(result.Errors),
			applog.FieldError, err)
	default:
		log.InfoContext(ctx, "Record batch done",
			"status", result.Status,
			applog.FieldRecorded, len(out.Recorded),
			applog.FieldErrors, len(out.Errors))
	}
	return result
}

// StartupCheck loads the categories of the current month tab so the first
// batch does not pay for the header read, and surfaces a misconfigured
// ledger early. A missing tab is logged, not fatal.
func (w *RecordWorker) StartupCheck(ctx context.Context) error {
	if w.warmer == nil {
		return nil
	}
	tab := ledger.CurrentTabLabel(w.now())
	names, err := w.warmer.CategoriesFor(ctx, tab)
	if err != nil {
		w.logger.WarnContext(ctx, "Current month tab not available",
			applog.FieldTab, tab,
			applog.FieldError, err)
		return err
	}
	w.logger.InfoContext(ctx, "Ledger reachable",
		applog.FieldTab, tab,
		"categories", len(names))
	return nil
}
