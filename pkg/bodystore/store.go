package bodystore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/getmockd/netinspect/pkg/logging"
)

// DefaultMaxBytes is the default buffer budget (10MB).
const DefaultMaxBytes = 10 * 1024 * 1024

// Stats is a point-in-time view of the store.
type Stats struct {
	EntryCount   int     `json:"entryCount"`
	CurrentBytes int     `json:"currentBytes"`
	MaxBytes     int     `json:"maxBytes"`
	Utilization  float64 `json:"utilization"`
}

// EvictFunc is called after an entry has been evicted under budget pressure.
type EvictFunc func(requestID string, size int)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithOnEvict registers a callback invoked for every budget eviction.
func WithOnEvict(fn EvictFunc) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// Store is a bounded, FIFO-evicting buffer of response bodies keyed by
// request ID. All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Pending
	sizes      map[string]int
	order      []string // oldest first
	current    int
	max        int
	generation uint64

	onEvict EvictFunc
	log     *slog.Logger
}

// New creates a Store with the given byte budget.
// A non-positive budget falls back to DefaultMaxBytes.
func New(maxBytes int, opts ...Option) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	s := &Store{
		entries: make(map[string]*Pending),
		sizes:   make(map[string]int),
		max:     maxBytes,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put registers a body for requestID and starts produce on its own
// goroutine. Registration happens before Put returns, so insertion order is
// the order of Put calls.
//
// The returned channel receives exactly one value once the producer settles:
// false if the entry was superseded in the meantime or the producer failed,
// true otherwise (including when the producer had nothing to buffer).
func (s *Store) Put(ctx context.Context, requestID string, produce Producer) <-chan bool {
	result := make(chan bool, 1)

	s.mu.Lock()
	if _, exists := s.entries[requestID]; exists {
		s.removeLocked(requestID)
	}
	s.generation++
	p := newPending(s.generation)
	s.entries[requestID] = p
	s.order = append(s.order, requestID)
	s.mu.Unlock()

	go func() {
		body, err := runProducer(ctx, produce)
		result <- s.settle(requestID, p, body, err)
		p.settle(body, err)
	}()

	return result
}

// runProducer calls produce, turning a panic into an error.
func runProducer(ctx context.Context, produce Producer) (body *Body, err error) {
	defer func() {
		if r := recover(); r != nil {
			body = nil
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	if produce == nil {
		return nil, nil
	}
	return produce(ctx)
}

// settle applies the outcome of a producer to the store's accounting.
func (s *Store) settle(requestID string, p *Pending, body *Body, err error) bool {
	s.mu.Lock()

	current, ok := s.entries[requestID]
	if !ok || current.generation != p.generation {
		s.mu.Unlock()
		s.log.Debug("body superseded before producer settled", "requestId", requestID)
		return false
	}

	if err != nil {
		s.removeLocked(requestID)
		s.mu.Unlock()
		s.log.Debug("body producer failed", "requestId", requestID, "error", err)
		return false
	}

	if body == nil {
		s.mu.Unlock()
		return true
	}

	size := body.Size
	if size < 0 {
		size = 0
	}
	s.sizes[requestID] = size
	s.current += size
	evicted := s.evictLocked(requestID)
	onEvict := s.onEvict
	s.mu.Unlock()

	for _, e := range evicted {
		s.log.Debug("evicted buffered body", "requestId", e.id, "size", e.size)
		if onEvict != nil {
			onEvict(e.id, e.size)
		}
	}
	return true
}

type evictedEntry struct {
	id   string
	size int
}

// evictLocked drops the oldest entries until the budget is met. The entry
// keep is never evicted, so a single oversized body may exceed the budget.
// Caller must hold s.mu.
func (s *Store) evictLocked(keep string) []evictedEntry {
	var evicted []evictedEntry
	for s.current > s.max && len(s.order) > 1 {
		victim := ""
		for _, id := range s.order {
			if id != keep {
				victim = id
				break
			}
		}
		if victim == "" {
			break
		}
		size := s.sizes[victim]
		s.removeLocked(victim)
		evicted = append(evicted, evictedEntry{id: victim, size: size})
	}
	return evicted
}

// Get detaches the entry for requestID and returns its pending body, or nil
// if there is none. The entry is removed immediately, so a second Get for the
// same ID returns nil.
func (s *Store) Get(requestID string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[requestID]
	if !ok {
		return nil
	}
	s.removeLocked(requestID)
	return p
}

// Remove deletes the entry for requestID. It is a no-op if there is none.
func (s *Store) Remove(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(requestID)
}

// removeLocked deletes requestID from every internal structure.
// Caller must hold s.mu.
func (s *Store) removeLocked(requestID string) {
	delete(s.entries, requestID)
	if size, counted := s.sizes[requestID]; counted {
		s.current -= size
		delete(s.sizes, requestID)
	}
	if i := slices.Index(s.order, requestID); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	clear(s.sizes)
	s.order = nil
	s.current = 0
}

// Stats returns a snapshot of the store's usage.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		EntryCount:   len(s.entries),
		CurrentBytes: s.current,
		MaxBytes:     s.max,
		Utilization:  float64(s.current) / float64(s.max),
	}
}

// Has reports whether an entry is registered for requestID.
func (s *Store) Has(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[requestID]
	return ok
}

// Order returns the registered request IDs, oldest first.
func (s *Store) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}
