package monitoring

import (
	"sync"
	"time"
)

// ring is a fixed-capacity FIFO buffer. Appending beyond capacity evicts the
// oldest entry. Not safe for concurrent use; the Store serializes access.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) append(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the retained entries in insertion order.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int {
	return r.count
}

// StoreConfig sets the per-category retention capacities.
type StoreConfig struct {
	RequestHistory    int `json:"request_history" yaml:"request_history"`
	SystemHistory     int `json:"system_history" yaml:"system_history"`
	SpansPerOperation int `json:"spans_per_operation" yaml:"spans_per_operation"`
}

// DefaultStoreConfig returns the default retention capacities.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		RequestHistory:    10000,
		SystemHistory:     1000,
		SpansPerOperation: 1000,
	}
}

// Store holds bounded, append-only histories of recent request metrics,
// system metrics, and performance spans. Recording always succeeds; once a
// category reaches its capacity the oldest entry is evicted. All state is
// in-memory.
type Store struct {
	mu         sync.RWMutex
	requests   *ring[RequestMetric]
	system     *ring[SystemMetric]
	spans      map[string]*ring[PerformanceSpan]
	spanCap    int
	lastRecord time.Time
}

// NewStore creates a store with the given capacities. Zero or negative
// capacities fall back to the defaults.
func NewStore(cfg StoreConfig) *Store {
	def := DefaultStoreConfig()
	if cfg.RequestHistory <= 0 {
		cfg.RequestHistory = def.RequestHistory
	}
	if cfg.SystemHistory <= 0 {
		cfg.SystemHistory = def.SystemHistory
	}
	if cfg.SpansPerOperation <= 0 {
		cfg.SpansPerOperation = def.SpansPerOperation
	}
	return &Store{
		requests: newRing[RequestMetric](cfg.RequestHistory),
		system:   newRing[SystemMetric](cfg.SystemHistory),
		spans:    make(map[string]*ring[PerformanceSpan]),
		spanCap:  cfg.SpansPerOperation,
	}
}

// RecordRequest appends a request metric, evicting the oldest when full.
func (s *Store) RecordRequest(m RequestMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.append(m)
	s.lastRecord = time.Now()
}

// RecordSystem appends a system metric, evicting the oldest when full.
func (s *Store) RecordSystem(m SystemMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system.append(m)
	s.lastRecord = time.Now()
}

// RecordSpan appends a performance span to the ring for its operation name.
// Rings are created on demand and evict independently per operation.
func (s *Store) RecordSpan(sp PerformanceSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.spans[sp.Operation]
	if !ok {
		r = newRing[PerformanceSpan](s.spanCap)
		s.spans[sp.Operation] = r
	}
	r.append(sp)
	s.lastRecord = time.Now()
}

// RequestsSince returns a snapshot of request metrics with timestamp at or
// after since, in insertion order. A zero since returns everything retained.
func (s *Store) RequestsSince(since time.Time) []RequestMetric {
	s.mu.RLock()
	all := s.requests.snapshot()
	s.mu.RUnlock()

	return filterSince(all, since, func(m RequestMetric) time.Time { return m.Timestamp })
}

// SystemSince returns a snapshot of system metrics with timestamp at or
// after since, in insertion order.
func (s *Store) SystemSince(since time.Time) []SystemMetric {
	s.mu.RLock()
	all := s.system.snapshot()
	s.mu.RUnlock()

	return filterSince(all, since, func(m SystemMetric) time.Time { return m.Timestamp })
}

// SpansSince returns a snapshot of performance spans for an operation with
// timestamp at or after since. Unknown operations yield an empty slice.
func (s *Store) SpansSince(operation string, since time.Time) []PerformanceSpan {
	s.mu.RLock()
	r, ok := s.spans[operation]
	var all []PerformanceSpan
	if ok {
		all = r.snapshot()
	}
	s.mu.RUnlock()

	return filterSince(all, since, func(sp PerformanceSpan) time.Time { return sp.Timestamp })
}

// LatestSystem returns the most recent system metric, if any.
func (s *Store) LatestSystem() (SystemMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system.len() == 0 {
		return SystemMetric{}, false
	}
	all := s.system.snapshot()
	return all[len(all)-1], true
}

// Operations returns the operation names that have recorded spans.
func (s *Store) Operations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.spans))
	for name := range s.spans {
		names = append(names, name)
	}
	return names
}

// RequestCount returns the number of retained request metrics.
func (s *Store) RequestCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests.len()
}

// SystemCount returns the number of retained system metrics.
func (s *Store) SystemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system.len()
}

// LastRecordedAt returns the wall-clock time of the most recent append of
// any category. The zero time means nothing has been recorded yet.
func (s *Store) LastRecordedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecord
}

func filterSince[T any](all []T, since time.Time, ts func(T) time.Time) []T {
	if since.IsZero() {
		return all
	}
	// Timestamps are stamped before the store lock is taken, so concurrent
	// producers can append slightly out of order. Check every entry rather
	// than slicing at the first in-window one.
	var out []T
	for _, v := range all {
		if !ts(v).Before(since) {
			out = append(out, v)
		}
	}
	return out
}
