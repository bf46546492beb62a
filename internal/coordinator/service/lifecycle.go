package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/pool"
	"github.com/nemanja-m/gojob/internal/shared/shell"
)

// DefaultShutdownTimeout applies when a policy returns a zero timeout.
const DefaultShutdownTimeout = 30 * time.Second

var ErrShutdownTimeout = errors.New("executors did not exit before shutdown timeout")

// Spawner runs a command line in dir and blocks until it exits or ctx is
// cancelled.
type Spawner interface {
	Run(ctx context.Context, dir, commandLine string) error
}

// SpawnError reports an executor process that failed to start or exited
// with an error.
type SpawnError struct {
	Index   int
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("executor %d (%s): %v", e.Index, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecutorSource provides the spawn command for each executor slot.
type ExecutorSource interface {
	ExecutorCount() int
	ExecutorCommand(jobID, jobURL string, index int) string
}

// ExecutorManager spawns executor processes on a bounded pool and tears them
// down on Stop.
type ExecutorManager struct {
	spawner Spawner
	dir     string
	logger  logging.Logger

	mu     sync.Mutex
	pool   *pool.Pool
	cancel context.CancelFunc
	errs   []error
}

func NewExecutorManager(spawner Spawner, dir string, logger logging.Logger) *ExecutorManager {
	return &ExecutorManager{
		spawner: spawner,
		dir:     dir,
		logger:  logger,
	}
}

// Start launches one process per executor slot and returns once all of them
// have been handed to the pool. A failing process is logged and recorded;
// it does not affect the others.
func (m *ExecutorManager) Start(ctx context.Context, source ExecutorSource, jobID, jobURL string) error {
	count := source.ExecutorCount()

	m.mu.Lock()
	if m.pool != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to start executor pool: %w", pool.ErrStarted)
	}
	p := pool.New(count)
	if err := p.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to start executor pool: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.pool, m.cancel = p, cancel
	m.mu.Unlock()

	m.logger.Info("Starting executors", "job_id", jobID, "count", count)

	for index := range count {
		line := source.ExecutorCommand(jobID, jobURL, index)
		if line == "" {
			m.logger.Debug("No command for executor slot, skipping", "index", index)
			continue
		}

		err := p.Submit(func() {
			m.run(runCtx, index, line)
		})
		if err != nil {
			return fmt.Errorf("failed to submit executor %d: %w", index, err)
		}
	}
	return nil
}

func (m *ExecutorManager) run(ctx context.Context, index int, line string) {
	m.logger.Info("Spawning executor", "index", index, "command", line)

	err := m.spawner.Run(ctx, m.dir, line)
	if ctx.Err() != nil {
		m.logger.Debug("Executor stopped", "index", index)
		return
	}
	if err != nil {
		spawnErr := &SpawnError{Index: index, Command: line, Err: err}
		m.logger.Error("Executor failed", "index", index, "error", spawnErr)

		m.mu.Lock()
		m.errs = append(m.errs, spawnErr)
		m.mu.Unlock()
		return
	}
	m.logger.Info("Executor exited", "index", index)
}

// Errors returns the spawn failures recorded so far.
func (m *ExecutorManager) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

// Stop waits up to timeout for executor processes to exit. Processes still
// running afterwards are killed and ErrShutdownTimeout is returned.
func (m *ExecutorManager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	p, cancel := m.pool, m.cancel
	m.mu.Unlock()

	if p == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	err := p.Shutdown(timeout)
	cancel()
	if errors.Is(err, pool.ErrTimeout) {
		m.logger.Warn("Executors still running after shutdown timeout, killing", "timeout", timeout)
		return ErrShutdownTimeout
	}
	return err
}

// ShellSpawner runs executor command lines through sh, forwarding output to
// the coordinator's stdout and stderr.
type ShellSpawner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (s ShellSpawner) Run(ctx context.Context, dir, commandLine string) error {
	stdout, stderr := s.Stdout, s.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := shell.Command(ctx, commandLine, shell.Options{
		Dir:    dir,
		Env:    os.Environ(),
		Stdout: stdout,
		Stderr: stderr,
	})
	return cmd.Run()
}
