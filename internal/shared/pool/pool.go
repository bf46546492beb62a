package pool

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidSize = errors.New("pool size must not be negative")
	ErrStarted     = errors.New("pool already started")
	ErrNotStarted  = errors.New("pool not started")
	ErrClosed      = errors.New("pool closed")
	ErrTimeout     = errors.New("timed out waiting for tasks")
)

type Task func()

// Pool runs submitted tasks on a fixed number of goroutines. Submit blocks
// until a worker picks the task up.
type Pool struct {
	numWorkers int
	tasks      chan Task
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func New(numWorkers int) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		tasks:      make(chan Task),
	}
}

func (p *Pool) Start() error {
	if p.numWorkers < 0 {
		return ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}
	p.started = true

	for range p.numWorkers {
		p.wg.Go(func() {
			for task := range p.tasks {
				task()
			}
		})
	}
	return nil
}

func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.closed {
		return ErrClosed
	}
	p.tasks <- task
	return nil
}

// Shutdown stops accepting tasks and waits for running ones to finish.
// A non-positive timeout waits indefinitely; otherwise ErrTimeout is
// returned once it elapses and the tasks are left running.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}
