package cache

import (
	"sync/atomic"
	"time"
)

type snapshot[T any] struct {
	value     T
	fetchedAt time.Time
}

// Entry holds a single lazily refreshed value. Readers always observe a
// complete snapshot: refreshes replace the pointer, never mutate in place.
type Entry[T any] struct {
	cur atomic.Pointer[snapshot[T]]
}

// Peek returns the current value and when it was fetched.
func (e *Entry[T]) Peek() (value T, fetchedAt time.Time, ok bool) {
	s := e.cur.Load()
	if s == nil {
		return value, time.Time{}, false
	}
	return s.value, s.fetchedAt, true
}

// Fresh reports whether a value fetched less than ttl before now is held.
func (e *Entry[T]) Fresh(now time.Time, ttl time.Duration) bool {
	s := e.cur.Load()
	return s != nil && now.Sub(s.fetchedAt) < ttl
}

// GetOrRefresh returns the held value when it is younger than ttl, otherwise
// calls fetch and stores its result stamped with now. Failed fetches are not stored.
func (e *Entry[T]) GetOrRefresh(now time.Time, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if s := e.cur.Load(); s != nil && now.Sub(s.fetchedAt) < ttl {
		return s.value, nil
	}
	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	e.cur.Store(&snapshot[T]{value: v, fetchedAt: now})
	return v, nil
}

// Reset drops the held value so the next call fetches.
func (e *Entry[T]) Reset() {
	e.cur.Store(nil)
}
