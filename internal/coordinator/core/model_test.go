package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestChunk_Duration(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		startTime time.Time
		endTime   time.Time
		want      time.Duration
	}{
		{
			name: "not dispatched returns zero",
			want: 0,
		},
		{
			name:      "dispatched but not finished returns zero",
			startTime: now,
			want:      0,
		},
		{
			name:      "finished chunk returns duration",
			startTime: now,
			endTime:   now.Add(5 * time.Minute),
			want:      5 * time.Minute,
		},
		{
			name:      "sub-second duration",
			startTime: now,
			endTime:   now.Add(500 * time.Millisecond),
			want:      500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := &Chunk[int]{StartTime: tt.startTime, EndTime: tt.endTime}
			if got := chunk.Duration(); got != tt.want {
				t.Errorf("Chunk.Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFuture_ResolvesOnce(t *testing.T) {
	f := NewFuture[string]()
	if f.Resolved() {
		t.Fatal("new future should not be resolved")
	}

	if !f.Resolve("first", nil) {
		t.Fatal("first Resolve() should report true")
	}
	if f.Resolve("second", errors.New("late")) {
		t.Error("second Resolve() should report false")
	}

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got != "first" {
		t.Errorf("Wait() = %q, want %q", got, "first")
	}
	if !f.Resolved() {
		t.Error("future should be resolved")
	}
}

func TestFuture_ConcurrentResolve(t *testing.T) {
	f := NewFuture[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			if f.Resolve(i, nil) {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one successful Resolve(), got %d", wins.Load())
	}
}

func TestFuture_WaitError(t *testing.T) {
	f := NewFuture[int]()
	want := errors.New("upload handler failed")
	f.Resolve(0, want)

	if _, err := f.Wait(context.Background()); !errors.Is(err, want) {
		t.Errorf("Wait() error = %v, want %v", err, want)
	}
}

func TestFuture_WaitCancelled(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	select {
	case <-f.Done():
		t.Error("Done() should stay open")
	default:
	}
}
