package service

import (
	"time"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
	"github.com/nemanja-m/gojob/internal/shared/logging"
)

type executorService struct {
	executorStore core.ExecutorStore
	logger        logging.Logger
	now           func() time.Time
}

func NewExecutorService(executorStore core.ExecutorStore, logger logging.Logger) core.ExecutorService {
	return &executorService{
		executorStore: executorStore,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *executorService) RegisterExecutor(id string) error {
	s.logger.Debug("Registering executor", "executor_id", id)
	now := s.now()
	return s.executorStore.AddExecutor(&core.Executor{
		ID:              id,
		Status:          core.ExecutorStatusActive,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	})
}

func (s *executorService) RecordHeartbeat(id, chunkID string) error {
	return s.executorStore.UpdateExecutorHeartbeat(id, chunkID, s.now())
}

func (s *executorService) GetStaleExecutors(timeout time.Duration) ([]*core.Executor, error) {
	threshold := s.now().Add(-timeout)
	return s.executorStore.GetStaleExecutors(threshold)
}

func (s *executorService) GetAllExecutors() ([]*core.Executor, error) {
	return s.executorStore.GetAllExecutors()
}

func (s *executorService) MarkStale(id string) error {
	return s.executorStore.UpdateExecutorStatus(id, core.ExecutorStatusStale)
}
