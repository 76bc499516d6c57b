package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"extrack/internal/amqp"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
)

// recordResponse is the body of POST /api/record.
type recordResponse struct {
	Status   string                `json:"status"`
	Recorded []core.RecordedEntry  `json:"recorded"`
	Errors   []core.RecordingError `json:"errors"`
	Reply    string                `json:"reply"`
	Error    string                `json:"error,omitempty"`
}

func newRecordResponse(status string, out core.Outcome) recordResponse {
	resp := recordResponse{
		Status:   status,
		Recorded: out.Recorded,
		Errors:   out.Errors,
		Reply:    out.Reply(),
	}
	if resp.Recorded == nil {
		resp.Recorded = []core.RecordedEntry{}
	}
	if resp.Errors == nil {
		resp.Errors = []core.RecordingError{}
	}
	return resp
}

// handleRecord merges a batch of expenses into the ledger.
//
//	200 every record recorded, or some recorded and the rest in errors
//	422 nothing recorded; errors lists why
//	400 malformed body or an amount that is not positive
//	502 the grid store failed; recorded lists the groups already written
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := applog.FromContext(ctx)

	expenses, err := ParseRecordRequest(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if IsAsync(r.URL.Query()) {
		s.enqueue(ctx, w, expenses)
		return
	}

	out, err := s.deps.Recorder.Record(ctx, expenses)
	s.observe(out)

	var batchErr *core.BatchError
	switch {
	case err == nil:
		status := "recorded"
		if len(out.Errors) > 0 {
			status = "partial"
		}
		NewJSONResponse().Body(newRecordResponse(status, out)).Write(w)
	case errors.As(err, &batchErr):
		out.Errors = batchErr.Errors
		NewJSONResponse().
			Status(http.StatusUnprocessableEntity).
			Body(newRecordResponse("rejected", out)).
			Write(w)
	case errors.Is(err, core.ErrInvalidAmount):
		BadRequestError(err.Error()).Write(w)
	default:
		log.ErrorContext(ctx, "Record batch failed",
			applog.FieldOperation, applog.OpRecord,
			applog.FieldRecords, len(expenses),
			applog.FieldRecorded, len(out.Recorded),
			applog.FieldError, err)
		resp := newRecordResponse("failed", out)
		resp.Error = err.Error()
		NewJSONResponse().Status(http.StatusBadGateway).Body(resp).Write(w)
	}
}

func (s *Server) enqueue(ctx context.Context, w http.ResponseWriter, expenses []core.ExpenseRecord) {
	if s.deps.Publisher == nil {
		ServiceUnavailableError("asynchronous recording is not configured").Write(w)
		return
	}
	for i, e := range expenses {
		if err := e.Validate(); err != nil {
			BadRequestError(fmt.Sprintf("expense %d (%q): %v", i, e.Description, err)).Write(w)
			return
		}
	}

	msg := amqp.NewRecordBatchMessage(expenses)
	if err := s.deps.Publisher.PublishBatch(ctx, msg); err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to queue record batch",
			applog.FieldBatchID, msg.BatchID,
			applog.FieldError, err)
		ServiceUnavailableError("could not queue batch").Write(w)
		return
	}
	atomic.AddInt64(&s.appMetrics.queued, 1)

	NewJSONResponse().
		Status(http.StatusAccepted).
		Body(map[string]any{"status": "queued", "batch_id": msg.BatchID, "records": len(expenses)}).
		Write(w)
}

// handleCategories lists the categories of a month tab.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	tab, err := ParseTabParam(r.URL.Query(), s.now())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	names, err := s.deps.Categories.CategoriesFor(r.Context(), tab)
	if err != nil {
		s.storeError(r, tab, err).Write(w)
		return
	}
	if names == nil {
		names = []string{}
	}
	NewJSONResponse().Body(map[string]any{"tab": tab, "categories": names}).Write(w)
}

// cellResponse describes one ledger cell.
type cellResponse struct {
	core.CellRef
	Kind    string `json:"kind"`
	Value   *int64 `json:"value,omitempty"`
	Formula string `json:"formula,omitempty"`
	Text    string `json:"text,omitempty"`
	Note    string `json:"note"`
	Total   *int64 `json:"total,omitempty"`
}

// handleCell shows the cell a record with the given date and category
// would be merged into.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	q, err := ParseCellQuery(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	tab, row, err := s.resolver.Resolve(q.Date)
	if err != nil {
		BadRequestError(fmt.Sprintf("invalid date %q: %v", q.Date, err)).Write(w)
		return
	}

	m, err := s.deps.Categories.MapFor(r.Context(), tab)
	if err != nil {
		s.storeError(r, tab, err).Write(w)
		return
	}
	col, ok := m.Column(q.Category)
	if !ok {
		NotFoundError(fmt.Sprintf("unknown category %q in %s", q.Category, tab)).Write(w)
		return
	}

	grid, err := s.deps.Cells.FetchRange(r.Context(), tab, ledger.Rect{MinRow: row, MaxRow: row, MinCol: col, MaxCol: col})
	if err != nil {
		s.storeError(r, tab, err).Write(w)
		return
	}
	st, _ := grid.At(row, col)

	resp := cellResponse{
		CellRef: core.CellRef{Tab: tab, Row: row, Column: col, A1: ledger.Cell{Row: row, Col: col}.A1()},
		Kind:    st.Kind.String(),
		Formula: st.Formula,
		Text:    st.Raw,
		Note:    st.Note,
	}
	if st.Kind == ledger.Plain {
		v := st.Value
		resp.Value = &v
	}
	if total, err := st.Total(); err == nil {
		resp.Total = &total
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) storeError(r *http.Request, tab string, err error) *JSONResponseBuilder {
	if errors.Is(err, core.ErrTabNotFound) {
		return NotFoundError(core.TabNotFoundMessage(tab))
	}
	applog.FromContext(r.Context()).ErrorContext(r.Context(), "Grid store error",
		applog.FieldTab, tab,
		applog.FieldPath, r.URL.Path,
		applog.FieldError, err)
	return BadGatewayError("ledger unavailable")
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.appMetrics.uptime).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks that the grid store answers for the current month.
// A missing current tab still counts as ready: the store responded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	tab := ledger.CurrentTabLabel(s.now())
	checks := map[string]any{}
	status, code := "ready", http.StatusOK

	_, err := s.deps.Categories.CategoriesFor(ctx, tab)
	switch {
	case err == nil:
		checks["ledger"] = "ok"
	case errors.Is(err, core.ErrTabNotFound):
		checks["ledger"] = "ok"
		checks["current_tab"] = "missing: " + tab
	default:
		checks["ledger"] = fmt.Sprintf("failed: %v", err)
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	if s.deps.Publisher != nil {
		checks["queue"] = "configured"
	}
	checks["rate_limiter"] = map[string]any{"active_clients": s.limiter.ActiveClients()}

	NewJSONResponse().Status(code).Body(map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides counters in Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.traceMiddleware.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_requests_failed_total", "counter", "HTTP requests answered with a 5xx status", traceMetrics.FailedRequests)
	metric("record_batches_total", "counter", "Batches recorded synchronously", atomic.LoadInt64(&s.appMetrics.batches))
	metric("record_batches_queued_total", "counter", "Batches queued for the worker", atomic.LoadInt64(&s.appMetrics.queued))
	metric("recorded_entries_total", "counter", "Expense records merged into the ledger", atomic.LoadInt64(&s.appMetrics.recorded))
	metric("record_errors_total", "counter", "Expense records rejected", atomic.LoadInt64(&s.appMetrics.recordErrors))
	metric("rate_limit_hits_total", "counter", "Requests refused by the rate limiter", limitMetrics.TotalHits)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", s.now().Sub(s.appMetrics.uptime).Seconds()))
}
