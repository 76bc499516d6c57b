// Package categories resolves the spending categories of a month tab from
// its header row.
package categories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"extrack/internal/cache"
	"extrack/internal/ledger"
	applog "extrack/internal/log"
	"extrack/internal/sheets"
)

// DefaultTTL is how long a tab's header stays cached after a successful fetch.
const DefaultTTL = time.Hour

// Map resolves a category name (case-sensitive header text) to its column.
type Map struct {
	names   []string
	columns map[string]int
}

// NewMap builds a Map from a full header row. Column 0 and blank headers are
// skipped. Duplicate names keep the rightmost column.
func NewMap(header []string) Map {
	m := Map{columns: make(map[string]int)}
	for col := ledger.LabelColumn + 1; col < len(header); col++ {
		name := header[col]
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, dup := m.columns[name]; !dup {
			m.names = append(m.names, name)
		}
		m.columns[name] = col
	}
	return m
}

// Column returns the column of name.
func (m Map) Column(name string) (int, bool) {
	col, ok := m.columns[name]
	return col, ok
}

// Names returns the categories in header order, each listed once.
func (m Map) Names() []string {
	return append([]string(nil), m.names...)
}

func (m Map) Len() int { return len(m.names) }

// Directory caches category maps per tab label.
type Directory struct {
	store  sheets.HeaderReader
	ttl    time.Duration
	now    cache.Clock
	logger *applog.Logger

	mu      sync.Mutex
	entries map[string]*cache.Entry[Map]
	group   singleflight.Group
}

type Option func(*Directory)

func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.ttl = ttl }
}

func WithClock(now cache.Clock) Option {
	return func(d *Directory) { d.now = now }
}

func WithLogger(l *applog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

func NewDirectory(store sheets.HeaderReader, opts ...Option) *Directory {
	d := &Directory{
		store:   store,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  applog.New(applog.DefaultConfig()),
		entries: make(map[string]*cache.Entry[Map]),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.WithComponent(applog.ComponentCategories)
	return d
}

func (d *Directory) entry(tab string) *cache.Entry[Map] {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[tab]
	if !ok {
		e = &cache.Entry[Map]{}
		d.entries[tab] = e
	}
	return e
}

// MapFor returns the category map of tab, fetching its header row when the
// cached copy is missing or older than the TTL. A missing tab is reported
// with an error wrapping core.ErrTabNotFound and is not cached.
func (d *Directory) MapFor(ctx context.Context, tab string) (Map, error) {
	e := d.entry(tab)
	now := d.now()
	if e.Fresh(now, d.ttl) {
		m, _, _ := e.Peek()
		return m, nil
	}
	// The fetch is shared by every waiter on tab; cancelling one caller
	// only abandons that caller's wait.
	fetchCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(tab, func() (any, error) {
		return e.GetOrRefresh(now, d.ttl, func() (Map, error) {
			header, err := d.store.HeaderRow(fetchCtx, tab)
			if err != nil {
				return Map{}, fmt.Errorf("read header of %q: %w", tab, err)
			}
			m := NewMap(header)
			d.logger.InfoContext(fetchCtx, "Refreshed categories",
				applog.FieldTab, tab,
				"categories", strings.Join(m.Names(), ", "))
			return m, nil
		})
	})
	select {
	case <-ctx.Done():
		return Map{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Map{}, res.Err
		}
		return res.Val.(Map), nil
	}
}

// CategoriesFor returns the category names of tab in header order.
func (d *Directory) CategoriesFor(ctx context.Context, tab string) ([]string, error) {
	m, err := d.MapFor(ctx, tab)
	if err != nil {
		return nil, err
	}
	return m.Names(), nil
}

// Invalidate forgets the cached header of tab.
func (d *Directory) Invalidate(tab string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, tab)
}

// CleanExpired drops tabs whose cached header is older than the TTL, so
// tabs no longer recorded into do not pin memory.
func (d *Directory) CleanExpired() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for tab, e := range d.entries {
		if !e.Fresh(now, d.ttl) {
			delete(d.entries, tab)
			removed++
		}
	}
	return removed
}
