package core

import (
	"context"
	"time"
)

// ArchiveStore keeps the raw zips executors upload.
type ArchiveStore interface {
	// Save stores data and returns its location.
	Save(ctx context.Context, jobID, executorID, chunkID string, data []byte) (string, error)
}

type ExecutorStore interface {
	AddExecutor(executor *Executor) error
	GetExecutorByID(id string) (*Executor, error)
	GetAllExecutors() ([]*Executor, error)
	UpdateExecutorHeartbeat(id, chunkID string, timestamp time.Time) error
	UpdateExecutorStatus(id string, status ExecutorStatus) error
	GetStaleExecutors(threshold time.Time) ([]*Executor, error)
}
