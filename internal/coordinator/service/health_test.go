package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
)

type mockExecutorServiceForHealth struct {
	mu             sync.Mutex
	staleExecutors []*core.Executor
	markedIDs      []string
	staleErr       error
	getStaleCount  int
}

func (m *mockExecutorServiceForHealth) RegisterExecutor(id string) error {
	return nil
}

func (m *mockExecutorServiceForHealth) RecordHeartbeat(id, chunkID string) error {
	return nil
}

func (m *mockExecutorServiceForHealth) GetStaleExecutors(timeout time.Duration) ([]*core.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStaleCount++
	if m.staleErr != nil {
		return nil, m.staleErr
	}
	return m.staleExecutors, nil
}

func (m *mockExecutorServiceForHealth) GetAllExecutors() ([]*core.Executor, error) {
	return nil, nil
}

func (m *mockExecutorServiceForHealth) MarkStale(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markedIDs = append(m.markedIDs, id)
	return nil
}

func (m *mockExecutorServiceForHealth) getMarkedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.markedIDs...)
}

func (m *mockExecutorServiceForHealth) getStaleCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStaleCount
}

func TestExecutorHealthChecker_MarksStaleExecutors(t *testing.T) {
	mockService := &mockExecutorServiceForHealth{
		staleExecutors: []*core.Executor{{ID: "1", ChunkID: "4"}, {ID: "2"}},
	}
	logger := &testLogger{}

	checker := NewExecutorHealthChecker(10*time.Millisecond, 15*time.Second, mockService, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)

	// Wait for at least one check cycle
	time.Sleep(50 * time.Millisecond)
	cancel()

	marked := mockService.getMarkedIDs()
	found := map[string]bool{}
	for _, id := range marked {
		found[id] = true
	}
	if !found["1"] || !found["2"] {
		t.Errorf("expected executors 1 and 2 marked stale, got %v", marked)
	}
	if !logger.has("Executor missed heartbeats") {
		t.Error("expected 'Executor missed heartbeats' log message")
	}
}

func TestExecutorHealthChecker_StopsOnContextCancel(t *testing.T) {
	checker := NewExecutorHealthChecker(5*time.Millisecond, 15*time.Second, &mockExecutorServiceForHealth{}, &testLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("health checker did not stop after context cancellation")
	}
}

func TestExecutorHealthChecker_DisabledWithoutStaleTimeout(t *testing.T) {
	mockService := &mockExecutorServiceForHealth{}
	checker := NewExecutorHealthChecker(5*time.Millisecond, 0, mockService, &testLogger{})

	done := make(chan struct{})
	go func() {
		checker.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("disabled health checker should return immediately")
	}
	if mockService.getStaleCallCount() != 0 {
		t.Errorf("expected no checks, got %d", mockService.getStaleCallCount())
	}
}

func TestExecutorHealthChecker_LogsLookupFailure(t *testing.T) {
	mockService := &mockExecutorServiceForHealth{staleErr: errors.New("store down")}
	logger := &testLogger{}
	checker := NewExecutorHealthChecker(10*time.Millisecond, time.Second, mockService, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	if !logger.has("Failed to get stale executors") {
		t.Error("expected 'Failed to get stale executors' log message")
	}
	if len(mockService.getMarkedIDs()) != 0 {
		t.Error("no executor should be marked on lookup failure")
	}
}
