package core

import (
	"errors"
	"sync"
)

// ErrQueueEmpty is returned when Pop() is called on an empty queue.
var ErrQueueEmpty = errors.New("chunk queue is empty")

// ChunkQueue is a thread-safe FIFO of pending chunks.
type ChunkQueue[T any] struct {
	mu    sync.RWMutex
	items []*Chunk[T]
}

func NewChunkQueue[T any]() *ChunkQueue[T] {
	return &ChunkQueue[T]{}
}

func (q *ChunkQueue[T]) Push(chunk *Chunk[T]) error {
	if chunk == nil {
		return errors.New("cannot push nil chunk")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, chunk)
	return nil
}

func (q *ChunkQueue[T]) Pop() (*Chunk[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	chunk := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return chunk, nil
}

func (q *ChunkQueue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}
