package service

import (
	"context"
	"time"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
	"github.com/nemanja-m/gojob/internal/shared/logging"
)

// ExecutorHealthChecker warns about executors that stopped sending
// heartbeats. It only observes; chunks held by a silent executor stay
// assigned to it.
type ExecutorHealthChecker struct {
	checkInterval   time.Duration
	staleTimeout    time.Duration
	executorService core.ExecutorService
	logger          logging.Logger
}

func NewExecutorHealthChecker(
	checkInterval time.Duration,
	staleTimeout time.Duration,
	executorService core.ExecutorService,
	logger logging.Logger,
) *ExecutorHealthChecker {
	return &ExecutorHealthChecker{
		checkInterval:   checkInterval,
		staleTimeout:    staleTimeout,
		executorService: executorService,
		logger:          logger,
	}
}

// Start runs checks until ctx is done. It returns immediately when the stale
// timeout or check interval is not positive.
func (h *ExecutorHealthChecker) Start(ctx context.Context) {
	if h.staleTimeout <= 0 || h.checkInterval <= 0 {
		return
	}

	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reportStaleExecutors()
		}
	}
}

func (h *ExecutorHealthChecker) reportStaleExecutors() {
	staleExecutors, err := h.executorService.GetStaleExecutors(h.staleTimeout)
	if err != nil {
		h.logger.Error("Failed to get stale executors", "error", err)
		return
	}
	for _, executor := range staleExecutors {
		h.logger.Warn(
			"Executor missed heartbeats",
			"executor_id", executor.ID,
			"chunk_id", executor.ChunkID,
			"last_heartbeat", executor.LastHeartbeatAt,
		)

		if err := h.executorService.MarkStale(executor.ID); err != nil {
			h.logger.Error("Failed to mark executor stale", "executor_id", executor.ID, "error", err)
		}
	}
}
