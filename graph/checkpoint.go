package graph

import (
	"context"
	"sync"
	"time"

	"github.com/no-ai-labs/spice-go/result"
)

// Checkpoint is a persisted snapshot of a run taken after every successful
// node transition. NodeID names the node that just completed; resuming
// continues from its edge selection.
type Checkpoint struct {
	RunID              string         `json:"run_id"`
	GraphID            string         `json:"graph_id"`
	NodeID             string         `json:"node_id"`
	State              map[string]any `json:"state"`
	MiddlewareState    map[string]any `json:"middleware_state,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	PendingResumeToken string         `json:"pending_resume_token,omitempty"`
}

// CheckpointStore persists checkpoints. Implementations may be backed by
// network stores; every method takes a context for that reason.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) *result.Error
	Load(ctx context.Context, runID string) (Checkpoint, bool, *result.Error)
	LoadByToken(ctx context.Context, token string) (Checkpoint, bool, *result.Error)
	Delete(ctx context.Context, runID string) *result.Error
}

// MemoryCheckpointStore keeps the latest checkpoint per run in memory.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	byRun   map[string]Checkpoint
	byToken map[string]string
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		byRun:   make(map[string]Checkpoint),
		byToken: make(map[string]string),
	}
}

// Save stores the checkpoint, replacing any earlier one for the same run.
func (s *MemoryCheckpointStore) Save(ctx context.Context, cp Checkpoint) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byRun[cp.RunID]; ok && prev.PendingResumeToken != "" {
		delete(s.byToken, prev.PendingResumeToken)
	}
	s.byRun[cp.RunID] = cp
	if cp.PendingResumeToken != "" {
		s.byToken[cp.PendingResumeToken] = cp.RunID
	}
	return nil
}

// Load returns the latest checkpoint for a run.
func (s *MemoryCheckpointStore) Load(ctx context.Context, runID string) (Checkpoint, bool, *result.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byRun[runID]
	return cp, ok, nil
}

// LoadByToken resolves a pending resume token to its checkpoint.
func (s *MemoryCheckpointStore) LoadByToken(ctx context.Context, token string) (Checkpoint, bool, *result.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runID, ok := s.byToken[token]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, ok := s.byRun[runID]
	return cp, ok, nil
}

// Delete removes a run's checkpoint.
func (s *MemoryCheckpointStore) Delete(ctx context.Context, runID string) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.byRun[runID]; ok && cp.PendingResumeToken != "" {
		delete(s.byToken, cp.PendingResumeToken)
	}
	delete(s.byRun, runID)
	return nil
}
