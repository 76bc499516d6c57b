package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"extrack/internal/amqp"
	"extrack/internal/categories"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	"extrack/internal/middleware/ratelimit"
	"extrack/internal/middleware/security"
	"extrack/internal/middleware/trace"
	"extrack/internal/sheets"
)

// Recorder records one batch of expenses.
type Recorder interface {
	Record(ctx context.Context, expenses []core.ExpenseRecord) (core.Outcome, error)
}

// CategorySource yields the category map of a tab.
type CategorySource interface {
	MapFor(ctx context.Context, tab string) (categories.Map, error)
	CategoriesFor(ctx context.Context, tab string) ([]string, error)
}

// BatchPublisher queues a batch for the recording worker.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msg *amqp.RecordBatchMessage) error
}

// Dependencies are the collaborators served by the API. Publisher is
// optional; without it asynchronous recording is refused.
type Dependencies struct {
	Recorder   Recorder
	Categories CategorySource
	Cells      sheets.RangeReader
	Publisher  BatchPublisher
}

type appMetrics struct {
	batches      int64
	recorded     int64
	recordErrors int64
	queued       int64
	uptime       time.Time
}

type Server struct {
	http.Server
	deps     Dependencies
	resolver ledger.Resolver
	logger   *applog.Logger

	limiter         *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	ipExtractor     *security.IPExtractor
	appMetrics      *appMetrics
	now             func() time.Time

	shutdownOnce sync.Once
}

type options struct {
	logger         *applog.Logger
	rateLimit      ratelimit.Config
	trustedProxies []string
	strictDates    bool
	now            func() time.Time
}

type Option func(*options)

func WithLogger(l *applog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit sets the per-client budget of the record endpoint.
func WithRateLimit(c ratelimit.Config) Option {
	return func(o *options) { o.rateLimit = c }
}

// WithTrustedProxies adds CIDRs whose forwarding headers are believed.
func WithTrustedProxies(cidrs ...string) Option {
	return func(o *options) { o.trustedProxies = append(o.trustedProxies, cidrs...) }
}

// WithStrictDates makes the cell lookup reject impossible calendar days.
func WithStrictDates(strict bool) Option {
	return func(o *options) { o.strictDates = strict }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Dependencies, opts ...Option) (*Server, error) {
	o := options{
		logger:    applog.New(applog.DefaultConfig()),
		rateLimit: ratelimit.DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ipx, err := security.NewIPExtractor(o.trustedProxies...)
	if err != nil {
		return nil, err
	}

	logger := o.logger.WithComponent(applog.ComponentHTTP)
	s := &Server{
		deps:            deps,
		resolver:        ledger.NewResolver(o.strictDates),
		logger:          logger,
		limiter:         ratelimit.NewLimiter(o.rateLimit),
		traceMiddleware: trace.NewMiddleware(logger, ipx.ClientIP),
		ipExtractor:     ipx,
		appMetrics:      &appMetrics{uptime: o.now()},
		now:             o.now,
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.traceMiddleware.Middleware, security.Headers(security.DefaultHeadersConfig()))

	limited := s.limiter.Middleware(s.ipExtractor.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.ipExtractor.ClientIP(r),
			applog.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/record", limited(http.HandlerFunc(s.handleRecord))).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	api.HandleFunc("/ledger/cell", s.handleCell).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})
	return r
}

func (s *Server) observe(out core.Outcome) {
	atomic.AddInt64(&s.appMetrics.batches, 1)
	atomic.AddInt64(&s.appMetrics.recorded, int64(len(out.Recorded)))
	atomic.AddInt64(&s.appMetrics.recordErrors, int64(len(out.Errors)))
}

// Shutdown stops background routines and the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
