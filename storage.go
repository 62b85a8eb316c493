package tangguh

import (
	"context"
	"sort"
	"sync"
)

// QueueStore is the durable home of queued operations, keyed by id. All
// access goes through the OfflineQueue; no other component touches the store
// directly.
type QueueStore interface {
	// Put inserts or replaces an operation.
	Put(ctx context.Context, op QueuedOperation) error
	// Get fetches one operation; the bool reports presence.
	Get(ctx context.Context, id string) (QueuedOperation, bool, error)
	// All returns every operation ordered by priority (high first), then age
	// (oldest first).
	All(ctx context.Context) ([]QueuedOperation, error)
	// Delete removes an operation; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Len reports the number of stored operations.
	Len(ctx context.Context) (int, error)
	// Clear removes everything.
	Clear(ctx context.Context) error
}

// sortOperations orders ops by priority descending, then createdAt ascending,
// then id for a stable total order.
func sortOperations(ops []QueuedOperation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].ID < ops[j].ID
	})
}

// MemoryStore is a map-backed QueueStore. It does not survive restarts; it
// exists for tests and for applications that opt out of durability.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]QueuedOperation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]QueuedOperation)}
}

// Put implements QueueStore.
func (s *MemoryStore) Put(_ context.Context, op QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

// Get implements QueueStore.
func (s *MemoryStore) Get(_ context.Context, id string) (QueuedOperation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	return op, ok, nil
}

// All implements QueueStore.
func (s *MemoryStore) All(_ context.Context) ([]QueuedOperation, error) {
	s.mu.RLock()
	ops := make([]QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op)
	}
	s.mu.RUnlock()
	sortOperations(ops)
	return ops, nil
}

// Delete implements QueueStore.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

// Len implements QueueStore.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops), nil
}

// Clear implements QueueStore.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]QueuedOperation)
	return nil
}
