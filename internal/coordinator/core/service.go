package core

import "time"

// ExecutorService tracks executor liveness. It never affects dispatch.
type ExecutorService interface {
	RegisterExecutor(id string) error
	RecordHeartbeat(id, chunkID string) error
	GetStaleExecutors(timeout time.Duration) ([]*Executor, error)
	GetAllExecutors() ([]*Executor, error)
	MarkStale(id string) error
}
