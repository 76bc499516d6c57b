package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"extrack/internal/core"
	"extrack/internal/ledger"
	ports "extrack/internal/sheets"
)

var (
	_ ports.GridStore      = (*Store)(nil)
	_ ports.TabProvisioner = (*Store)(nil)
)

type tab struct {
	headers []string
	cells   map[ledger.Cell]ledger.CellState
}

// Store is an in-process grid. Reads and writes are counted so callers can
// assert on I/O behaviour.
type Store struct {
	mu   sync.Mutex
	tabs map[string]*tab

	headerReads int
	rangeReads  []ledger.Rect
	persists    int

	persistErr error
}

func New() *Store {
	return &Store{tabs: make(map[string]*tab)}
}

// NewFromFile seeds tabs from a text file of lines "MM/YYYY: Cat A, Cat B".
// Blank lines and lines starting with # are ignored; a missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		label, rest, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("seed line %q: want \"MM/YYYY: categories\"", line)
		}
		var cats []string
		for _, c := range strings.Split(rest, ",") {
			cats = append(cats, strings.TrimSpace(c))
		}
		s.Provision(strings.TrimSpace(label), append([]string{"Ngày"}, cats...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return s, nil
}

// Provision creates (or replaces) a tab with the given header row.
func (s *Store) Provision(label string, headers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[label] = &tab{
		headers: append([]string(nil), headers...),
		cells:   make(map[ledger.Cell]ledger.CellState),
	}
}

func (s *Store) ProvisionTab(_ context.Context, label string, headers []string) error {
	s.Provision(label, headers)
	return nil
}

// FailPersist makes every following Persist return err; nil restores normal behaviour.
func (s *Store) FailPersist(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistErr = err
}

func (s *Store) lookup(label string) (*tab, error) {
	t, ok := s.tabs[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrTabNotFound, label)
	}
	return t, nil
}

func (s *Store) HeaderRow(_ context.Context, label string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headerReads++
	t, err := s.lookup(label)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.headers...), nil
}

func (s *Store) FetchRange(_ context.Context, label string, r ledger.Rect) (ledger.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(label)
	if err != nil {
		return ledger.Grid{}, err
	}
	s.rangeReads = append(s.rangeReads, r)
	g := ledger.NewGrid(r)
	for c, st := range t.cells {
		if r.Contains(c) {
			g.Cells[c] = st
		}
	}
	return g, nil
}

func (s *Store) Persist(_ context.Context, label string, updates []ledger.CellUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	t, err := s.lookup(label)
	if err != nil {
		return err
	}
	s.persists++
	for _, u := range updates {
		t.cells[ledger.Cell{Row: u.Row, Col: u.Col}] = u.State
	}
	return nil
}

// Cell returns the stored state of one cell.
func (s *Store) Cell(label string, row, col int) ledger.CellState {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[label]
	if !ok {
		return ledger.EmptyCell()
	}
	if st, ok := t.cells[ledger.Cell{Row: row, Col: col}]; ok {
		return st
	}
	return ledger.EmptyCell()
}

// SetCell writes a cell directly, bypassing Persist accounting.
func (s *Store) SetCell(label string, row, col int, st ledger.CellState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[label]; ok {
		t.cells[ledger.Cell{Row: row, Col: col}] = st
	}
}

// Stats reports I/O counters: header reads, fetched rectangles, persist calls.
func (s *Store) Stats() (headerReads int, rangeReads []ledger.Rect, persists int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerReads, append([]ledger.Rect(nil), s.rangeReads...), s.persists
}
