package core

import (
	"sync"
	"testing"
)

func TestNewChunkQueue(t *testing.T) {
	q := NewChunkQueue[int]()
	if q.Len() != 0 {
		t.Errorf("expected new queue to have length 0, got %d", q.Len())
	}
}

func TestChunkQueue_Push(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *Chunk[int]
		wantErr bool
	}{
		{
			name:    "push valid chunk",
			chunk:   NewChunk("1", 10),
			wantErr: false,
		},
		{
			name:    "push nil chunk returns error",
			chunk:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewChunkQueue[int]()
			err := q.Push(tt.chunk)
			if (err != nil) != tt.wantErr {
				t.Errorf("Push() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && q.Len() != 1 {
				t.Errorf("expected queue length 1 after push, got %d", q.Len())
			}
		})
	}
}

func TestChunkQueue_PopFIFO(t *testing.T) {
	q := NewChunkQueue[string]()
	for _, id := range []string{"1", "2", "3"} {
		if err := q.Push(NewChunk(id, "value-"+id)); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	for _, want := range []string{"1", "2", "3"} {
		chunk, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if chunk.ID != want {
			t.Errorf("Pop() = %s, want %s", chunk.ID, want)
		}
	}

	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestChunkQueue_Concurrent(t *testing.T) {
	q := NewChunkQueue[int]()
	const n = 200

	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			_ = q.Push(NewChunk("c", i))
		})
	}
	wg.Wait()

	if q.Len() != n {
		t.Fatalf("expected %d chunks, got %d", n, q.Len())
	}

	var mu sync.Mutex
	popped := 0
	for range n {
		wg.Go(func() {
			if _, err := q.Pop(); err == nil {
				mu.Lock()
				popped++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if popped != n {
		t.Errorf("popped %d chunks, want %d", popped, n)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}
