package workflow

import (
	"context"
	"sync"
)

// MemoryExecutionStore keeps execution records in process memory. It backs
// local development and tests.
type MemoryExecutionStore struct {
	mu      sync.RWMutex
	records map[string]ExecutionRecord
}

// NewMemoryExecutionStore constructs an empty in-memory store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{records: make(map[string]ExecutionRecord)}
}

var _ ExecutionStore = (*MemoryExecutionStore)(nil)

// Find implements ExecutionStore.
func (s *MemoryExecutionStore) Find(_ context.Context, workflowName, key string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(workflowName, key)]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

// Save implements ExecutionStore.
func (s *MemoryExecutionStore) Save(_ context.Context, record ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(record.WorkflowName, record.Key)] = record
	return nil
}

// Delete implements ExecutionStore.
func (s *MemoryExecutionStore) Delete(_ context.Context, workflowName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(workflowName, key))
	return nil
}

func recordKey(workflowName, key string) string {
	return workflowName + "/" + key
}
