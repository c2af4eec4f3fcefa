package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/haldane/stepflow/pkg/errors"
)

// Store persists execution records. The engine writes through a Store
// incrementally while an execution runs, so implementations must tolerate
// frequent small updates; readers may observe partial progress.
type Store interface {
	// SaveExecution creates or replaces a record.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// FindExecution retrieves a record by ID. Missing records fail with
	// NotFoundError.
	FindExecution(ctx context.Context, id string) (*ExecutionRecord, error)

	// UpdateExecution applies a partial update to a record under the
	// store's write lock: the stored record is loaded, passed to update,
	// and written back. Missing records fail with NotFoundError.
	UpdateExecution(ctx context.Context, id string, update func(rec *ExecutionRecord) error) error

	// ListExecutions retrieves records matching the query, most recent
	// first.
	ListExecutions(ctx context.Context, query Query) ([]*ExecutionRecord, error)

	// DeleteExecution removes a record by ID. Missing records fail with
	// NotFoundError.
	DeleteExecution(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

// Query defines filtering options for listing executions.
type Query struct {
	// Status filters by execution status (empty matches all)
	Status ExecutionStatus

	// WorkflowName filters by workflow name (empty matches all)
	WorkflowName string

	// Limit caps the number of results (0 means no limit)
	Limit int

	// Offset skips the first N results
	Offset int
}

// MemoryStore is an in-memory implementation of Store, suitable for
// single-run CLI executions and tests. All operations are safe for
// concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
}

// NewMemoryStore creates a new in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ExecutionRecord),
	}
}

// SaveExecution creates or replaces a record.
func (s *MemoryStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil {
		return &errors.ValidationError{
			Field:      "record",
			Message:    "execution record cannot be nil",
			Suggestion: "provide a valid execution record",
		}
	}
	if rec.ID == "" {
		return &errors.ValidationError{
			Field:      "id",
			Message:    "execution ID is required",
			Suggestion: "assign the record an ID before saving",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = copyRecord(rec)
	return nil
}

// FindExecution retrieves a record by ID.
func (s *MemoryStore) FindExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return copyRecord(rec), nil
}

// UpdateExecution applies a partial update under the write lock.
func (s *MemoryStore) UpdateExecution(ctx context.Context, id string, update func(rec *ExecutionRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}

	updated := copyRecord(rec)
	if err := update(updated); err != nil {
		return err
	}
	s.records[id] = updated
	return nil
}

// ListExecutions retrieves records matching the query, most recent first.
func (s *MemoryStore) ListExecutions(ctx context.Context, query Query) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*ExecutionRecord, 0, len(s.records))
	for _, rec := range s.records {
		if query.Status != "" && rec.Status != query.Status {
			continue
		}
		if query.WorkflowName != "" && rec.WorkflowName != query.WorkflowName {
			continue
		}
		matches = append(matches, rec)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if query.Offset > 0 {
		if query.Offset >= len(matches) {
			return []*ExecutionRecord{}, nil
		}
		matches = matches[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(matches) {
		matches = matches[:query.Limit]
	}

	out := make([]*ExecutionRecord, len(matches))
	for i, rec := range matches {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

// DeleteExecution removes a record by ID.
func (s *MemoryStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	delete(s.records, id)
	return nil
}

// Close releases store resources. MemoryStore holds none.
func (s *MemoryStore) Close() error {
	return nil
}

// copyRecord copies a record so callers cannot mutate stored state.
// Container structure is copied; snapshot payload values are shared,
// as the engine treats payloads as immutable once recorded.
func copyRecord(rec *ExecutionRecord) *ExecutionRecord {
	out := *rec

	if rec.Snapshots != nil {
		out.Snapshots = make([]NodeSnapshot, len(rec.Snapshots))
		copy(out.Snapshots, rec.Snapshots)
	}

	if rec.Cancellation != nil {
		cancellation := *rec.Cancellation
		out.Cancellation = &cancellation
	}

	if rec.StartedAt != nil {
		started := *rec.StartedAt
		out.StartedAt = &started
	}
	if rec.CompletedAt != nil {
		completed := *rec.CompletedAt
		out.CompletedAt = &completed
	}

	return &out
}
