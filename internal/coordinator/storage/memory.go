package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
)

type InMemoryExecutorStore struct {
	mu        sync.RWMutex
	executors map[string]*core.Executor
}

func NewInMemoryExecutorStore() *InMemoryExecutorStore {
	return &InMemoryExecutorStore{
		executors: make(map[string]*core.Executor),
	}
}

func (s *InMemoryExecutorStore) AddExecutor(executor *core.Executor) error {
	if executor == nil {
		return fmt.Errorf("executor is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[executor.ID] = executor
	return nil
}

func (s *InMemoryExecutorStore) GetExecutorByID(id string) (*core.Executor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	executor, exists := s.executors[id]
	if !exists {
		return nil, nil
	}
	return executor, nil
}

// GetAllExecutors returns executors ordered by registration time.
func (s *InMemoryExecutorStore) GetAllExecutors() ([]*core.Executor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	executors := make([]*core.Executor, 0, len(s.executors))
	for _, e := range s.executors {
		executors = append(executors, e)
	}
	sort.Slice(executors, func(i, j int) bool {
		return executors[i].RegisteredAt.Before(executors[j].RegisteredAt)
	})
	return executors, nil
}

func (s *InMemoryExecutorStore) UpdateExecutorHeartbeat(id, chunkID string, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	executor, exists := s.executors[id]
	if !exists {
		return fmt.Errorf("executor not found: %s", id)
	}
	executor.LastHeartbeatAt = timestamp
	executor.ChunkID = chunkID
	executor.Status = core.ExecutorStatusActive
	return nil
}

func (s *InMemoryExecutorStore) UpdateExecutorStatus(id string, status core.ExecutorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	executor, exists := s.executors[id]
	if !exists {
		return fmt.Errorf("executor not found: %s", id)
	}
	executor.Status = status
	return nil
}

// GetStaleExecutors returns active executors whose last heartbeat is older
// than threshold.
func (s *InMemoryExecutorStore) GetStaleExecutors(threshold time.Time) ([]*core.Executor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*core.Executor
	for _, e := range s.executors {
		if e.Status == core.ExecutorStatusActive && e.LastHeartbeatAt.Before(threshold) {
			stale = append(stale, e)
		}
	}
	return stale, nil
}
