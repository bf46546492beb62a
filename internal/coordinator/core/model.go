package core

import (
	"time"
)

// Chunk is one unit of work. ExecutorID and StartTime are set when the chunk
// is dispatched, EndTime when its result is uploaded.
type Chunk[T any] struct {
	ID         string
	Value      T
	ExecutorID string
	StartTime  time.Time
	EndTime    time.Time
	Future     *Future[T]
}

func NewChunk[T any](id string, value T) *Chunk[T] {
	return &Chunk[T]{
		ID:     id,
		Value:  value,
		Future: NewFuture[T](),
	}
}

// Duration returns how long the chunk ran, or zero if it has not finished.
func (c *Chunk[T]) Duration() time.Duration {
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return 0
	}
	return c.EndTime.Sub(c.StartTime)
}

// ChunkContext is what a policy sees when it turns a chunk into commands.
// ExecutorDir is the absolute output directory reported by the executor.
type ChunkContext[T any] struct {
	JobID       string
	ExecutorID  string
	ChunkID     string
	Value       T
	ExecutorDir string
}

type ExecutorStatus string

const (
	ExecutorStatusActive ExecutorStatus = "ACTIVE"
	ExecutorStatusStale  ExecutorStatus = "STALE"
)

// Executor is a worker process known to the coordinator. It is registered on
// download and updated by heartbeats.
type Executor struct {
	ID              string
	Status          ExecutorStatus
	ChunkID         string
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
}
