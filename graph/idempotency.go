package graph

import (
	"context"
	"sync"
	"time"

	"github.com/no-ai-labs/spice-go/result"
)

// IdempotencyKey is the input field consulted for run deduplication.
const IdempotencyKey = "causation_id"

// IdempotencyStore deduplicates graph runs by a caller-supplied key within
// a TTL.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (RunReport, bool, *result.Error)
	Put(ctx context.Context, key string, report RunReport, ttl time.Duration) *result.Error
}

type idempotencyEntry struct {
	report    RunReport
	createdAt time.Time
	ttl       time.Duration
}

// MemoryIdempotencyStore keeps reports in memory with TTL checked on read.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]idempotencyEntry
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]idempotencyEntry)}
}

// Get returns the cached report for key, honoring the entry TTL.
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (RunReport, bool, *result.Error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return RunReport{}, false, nil
	}
	if entry.ttl > 0 && time.Since(entry.createdAt) > entry.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return RunReport{}, false, nil
	}
	return entry.report, true, nil
}

// Put stores a report under key.
func (s *MemoryIdempotencyStore) Put(ctx context.Context, key string, report RunReport, ttl time.Duration) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{report: report, createdAt: time.Now(), ttl: ttl}
	return nil
}
