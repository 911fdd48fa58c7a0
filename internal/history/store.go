// Package history holds the per-session query-result store, the conversation
// memory sent to the LLM, and the lookup tool that retrieves older results.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// Snapshotter persists the store's contents after each record. Flush failures
// are reported but never roll back the in-memory state.
type Snapshotter interface {
	SaveResults(ctx context.Context, sessionID string, results []*domain.QueryResult) error
}

// NotFoundError reports a lookup for an index that was never assigned. It
// carries the currently valid indices so callers (including the LLM) can
// recover without parsing error text.
type NotFoundError struct {
	Index int
	Valid []int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("history: no query result with index %d (valid: %v)", e.Index, e.Valid)
}

func (e *NotFoundError) Unwrap() error { return domain.ErrNotFound }

// RecordInput is the outcome of one query execution or rejection.
type RecordInput struct {
	QueryText     string
	Success       bool
	Columns       []string
	Rows          []map[string]any
	RowCount      int
	Error         string
	ExecutionTime float64
}

// Store is an append-only, index-addressable store of query outcomes for one
// session. Indices form a contiguous sequence 1..N and are never reused.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	results   []*domain.QueryResult
	snapshots Snapshotter // nil disables persistence
	clock     func() time.Time
}

// NewStore creates an empty store. snapshots may be nil.
func NewStore(sessionID string, snapshots Snapshotter) *Store {
	return &Store{
		sessionID: sessionID,
		snapshots: snapshots,
		clock:     time.Now,
	}
}

// Restore seeds the store with previously persisted results. It panics when
// the loaded indices are not the contiguous sequence 1..N, since that means
// the persisted snapshot violates the store invariant.
func (s *Store) Restore(results []*domain.QueryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range results {
		if r.Index != i+1 {
			panic(fmt.Sprintf("history.Store.Restore: index %d at position %d breaks contiguity", r.Index, i))
		}
	}

	s.results = make([]*domain.QueryResult, len(results))
	for i, r := range results {
		s.results[i] = r.Clone()
	}
}

// Record assigns the next sequential index and stores an immutable
// QueryResult. The returned index is canonical even when the persistence
// flush fails; in that case the error describes the flush failure only.
func (s *Store) Record(ctx context.Context, in RecordInput) (int, error) {
	if in.ExecutionTime < 0 {
		panic(fmt.Sprintf("history.Store.Record: negative execution time %f", in.ExecutionTime))
	}

	s.mu.Lock()
	result := &domain.QueryResult{
		Index:         len(s.results) + 1,
		Timestamp:     s.clock(),
		QueryText:     in.QueryText,
		Success:       in.Success,
		Columns:       in.Columns,
		Rows:          in.Rows,
		RowCount:      in.RowCount,
		Error:         in.Error,
		ExecutionTime: in.ExecutionTime,
	}
	s.results = append(s.results, result.Clone())
	snapshot := s.cloneAllLocked()
	s.mu.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.SaveResults(ctx, s.sessionID, snapshot); err != nil {
			log.Error().Err(err).Str("session_id", s.sessionID).Int("index", result.Index).
				Msg("history.Store.Record: snapshot flush failed")
			return result.Index, fmt.Errorf("history.Store.Record: persist index %d: %w", result.Index, err)
		}
	}

	return result.Index, nil
}

// Get returns the result for index in O(1). An unknown index yields a
// *NotFoundError listing the valid indices, never a generic error.
func (s *Store) Get(index int) (*domain.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 1 || index > len(s.results) {
		return nil, &NotFoundError{Index: index, Valid: s.validIndicesLocked()}
	}
	return s.results[index-1].Clone(), nil
}

// LatestIndex returns the highest assigned index, or 0 when empty.
func (s *Store) LatestIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Count returns the number of recorded outcomes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// ValidIndices returns all assigned indices in ascending order.
func (s *Store) ValidIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validIndicesLocked()
}

// All returns a deep copy of every stored result in index order.
func (s *Store) All() []*domain.QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneAllLocked()
}

// SessionID returns the owning session id.
func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) validIndicesLocked() []int {
	indices := make([]int, len(s.results))
	for i := range s.results {
		indices[i] = i + 1
	}
	return indices
}

func (s *Store) cloneAllLocked() []*domain.QueryResult {
	out := make([]*domain.QueryResult, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}
