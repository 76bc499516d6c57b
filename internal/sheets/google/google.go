package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"extrack/internal/cache"
	"extrack/internal/core"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	ports "extrack/internal/sheets"
)

const (
	// DefaultTabCacheTTL bounds how long a tab title -> sheetId mapping is trusted.
	DefaultTabCacheTTL = 10 * time.Minute
	tabCacheSize       = 256

	cellFields = "userEnteredValue,note"
)

// Ensure interface conformance
var _ ports.GridStore = (*Client)(nil)

// Client reads and writes month tabs of one Google spreadsheet per year.
type Client struct {
	svc    *gsheet.Service
	ids    SpreadsheetIDs
	tabs   *cache.LRUCache[int64]
	logger *applog.Logger
}

type Option func(*Client)

// WithTabCache replaces the sheetId cache, e.g. with one registered on a cache.Manager.
func WithTabCache(c *cache.LRUCache[int64]) Option {
	return func(cl *Client) { cl.tabs = c }
}

func WithLogger(l *applog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, ids SpreadsheetIDs, opts ...Option) *Client {
	c := &Client{
		svc:    svc,
		ids:    ids,
		tabs:   cache.NewLRUCache[int64](tabCacheSize, DefaultTabCacheTTL),
		logger: applog.New(applog.DefaultConfig()),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithComponent(applog.ComponentSheets)
	return c
}

// NewFromEnv creates a Sheets client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID or at least one GOOGLE_SPREADSHEET_ID_<YEAR>.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, opts ...Option) (*Client, error) {
	ids := SpreadsheetIDsFromEnv(os.Environ())
	if ids.Empty() {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := serviceAccountJSON(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, ids, opts...), nil
}

// serviceAccountJSON loads service account credentials.
func serviceAccountJSON(ctx context.Context) ([]byte, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		applog.FromContext(ctx).DebugContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newSheetsService builds a Sheets service authenticated as a service account
// over a pooled HTTP transport.
func newSheetsService(ctx context.Context, credentialsJSON []byte) (*gsheet.Service, error) {
	cfg, err := oauthgoogle.JWTConfigFromJSON(credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	client := newHTTPClientWithPooling(cfg.TokenSource(ctx))
	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts, authorising requests from ts.
func newHTTPClientWithPooling(ts oauth2.TokenSource) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: transport},
		Timeout:   60 * time.Second,
	}
}

// SpreadsheetIDs maps a year to the spreadsheet holding its month tabs.
type SpreadsheetIDs struct {
	ByYear   map[int]string
	Fallback string
}

// SpreadsheetIDsFromEnv reads GOOGLE_SPREADSHEET_ID_<YEAR> entries and the
// GOOGLE_SPREADSHEET_ID fallback from environ ("KEY=value" pairs).
func SpreadsheetIDsFromEnv(environ []string) SpreadsheetIDs {
	ids := SpreadsheetIDs{ByYear: map[int]string{}}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		switch {
		case k == "GOOGLE_SPREADSHEET_ID":
			ids.Fallback = v
		case strings.HasPrefix(k, "GOOGLE_SPREADSHEET_ID_"):
			year, err := strconv.Atoi(strings.TrimPrefix(k, "GOOGLE_SPREADSHEET_ID_"))
			if err == nil {
				ids.ByYear[year] = v
			}
		}
	}
	return ids
}

func (s SpreadsheetIDs) Empty() bool {
	return s.Fallback == "" && len(s.ByYear) == 0
}

// For returns the spreadsheet id holding tab. A label that cannot name a tab,
// or a year without a spreadsheet, yields an error wrapping
// core.ErrTabNotFound: no grid exists for it either way.
func (s SpreadsheetIDs) For(tab string) (string, error) {
	_, year, err := ledger.ParseTabLabel(tab)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTabNotFound, err)
	}
	if id, ok := s.ByYear[year]; ok {
		return id, nil
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return "", fmt.Errorf("%w: %s (no spreadsheet configured for %d, set GOOGLE_SPREADSHEET_ID_%d)", core.ErrTabNotFound, tab, year, year)
}

// sheet resolves tab to its spreadsheet and sheetId. A tab absent from the
// spreadsheet yields an error wrapping core.ErrTabNotFound.
func (c *Client) sheet(ctx context.Context, tab string) (spreadsheetID string, sheetID int64, err error) {
	if c.svc == nil {
		return "", 0, errors.New("sheets service not initialized")
	}
	spreadsheetID, err = c.ids.For(tab)
	if err != nil {
		return "", 0, err
	}
	key := spreadsheetID + "\x00" + tab
	if id, ok := c.tabs.Get(key); ok {
		return spreadsheetID, id, nil
	}

	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("list tabs of %s: %w", spreadsheetID, err)
	}
	found := false
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		c.tabs.Set(spreadsheetID+"\x00"+sh.Properties.Title, sh.Properties.SheetId)
		if sh.Properties.Title == tab {
			sheetID, found = sh.Properties.SheetId, true
		}
	}
	if !found {
		return "", 0, fmt.Errorf("%w: %s", core.ErrTabNotFound, tab)
	}
	return spreadsheetID, sheetID, nil
}

// HeaderRow implements sheets.HeaderReader.
func (c *Client) HeaderRow(ctx context.Context, tab string) ([]string, error) {
	spreadsheetID, _, err := c.sheet(ctx, tab)
	if err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("%s!%d:%d", ledger.QuoteTab(tab), ledger.HeaderRow+1, ledger.HeaderRow+1)
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return toStrings(resp.Values[0]), nil
}

// FetchRange implements sheets.RangeReader.
func (c *Client) FetchRange(ctx context.Context, tab string, rect ledger.Rect) (ledger.Grid, error) {
	spreadsheetID, _, err := c.sheet(ctx, tab)
	if err != nil {
		return ledger.Grid{}, err
	}
	rng := rect.A1(tab)
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Ranges(rng).
		IncludeGridData(true).
		Fields("sheets(data(startRow,startColumn,rowData(values(userEnteredValue,note))))").
		Context(ctx).Do()
	if err != nil {
		return ledger.Grid{}, fmt.Errorf("read %s: %w", rng, err)
	}
	grid := gridFromResponse(resp, rect)
	c.logger.DebugContext(ctx, "Fetched range",
		applog.FieldTab, tab,
		applog.FieldRange, rng,
		"cells", len(grid.Cells))
	return grid, nil
}

// Persist implements sheets.RangeWriter with a single batch update.
func (c *Client) Persist(ctx context.Context, tab string, updates []ledger.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	spreadsheetID, sheetID, err := c.sheet(ctx, tab)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: updateRequests(sheetID, updates)}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update %s: %w", tab, err)
	}
	c.logger.DebugContext(ctx, "Persisted cells",
		applog.FieldTab, tab,
		"cells", len(updates))
	return nil
}
