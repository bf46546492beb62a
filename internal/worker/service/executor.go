package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
	"github.com/nemanja-m/gojob/internal/shared/shell"
)

// CommandError reports a command that could not start or exited non-zero.
// ExitCode is -1 when the command never ran to completion.
type CommandError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandExecutor runs protocol commands inside an executor workspace.
type CommandExecutor struct {
	dir    string
	env    []string
	stdout io.Writer
	stderr io.Writer
	logger logging.Logger
}

func NewCommandExecutor(dir string, env []string, stdout, stderr io.Writer, logger logging.Logger) *CommandExecutor {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &CommandExecutor{
		dir:    dir,
		env:    env,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
	}
}

// SetOutput redirects command output.
func (e *CommandExecutor) SetOutput(stdout, stderr io.Writer) {
	e.stdout = stdout
	e.stderr = stderr
}

// NewScope returns a scope that owns background commands started with it.
func (e *CommandExecutor) NewScope(name string) *Scope {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scope{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		logger: e.logger,
	}
}

// Run executes commands in order. Foreground commands must exit zero before
// the next one starts; background commands are started and left to scope.
func (e *CommandExecutor) Run(ctx context.Context, commands []protocol.Command, scope *Scope) error {
	for _, c := range commands {
		if c.Background {
			if err := e.start(c, scope); err != nil {
				return err
			}
			continue
		}
		if err := e.run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (e *CommandExecutor) workingDir(c protocol.Command) string {
	if c.WorkingPath == "" {
		return e.dir
	}
	if filepath.IsAbs(c.WorkingPath) {
		return c.WorkingPath
	}
	return filepath.Join(e.dir, c.WorkingPath)
}

func (e *CommandExecutor) command(ctx context.Context, c protocol.Command) *exec.Cmd {
	return shell.Command(ctx, c.Command, shell.Options{
		Dir:    e.workingDir(c),
		Env:    e.env,
		Stdout: e.stdout,
		Stderr: e.stderr,
	})
}

func (e *CommandExecutor) run(ctx context.Context, c protocol.Command) error {
	e.logger.Info("Running command", "command", c.Command, "dir", e.workingDir(c))
	if err := e.command(ctx, c).Run(); err != nil {
		return newCommandError(c.Command, err)
	}
	return nil
}

func (e *CommandExecutor) start(c protocol.Command, scope *Scope) error {
	if scope == nil {
		return &CommandError{Command: c.Command, ExitCode: -1, Err: errors.New("background command without scope")}
	}
	e.logger.Info("Starting background command", "command", c.Command, "scope", scope.name)
	return scope.start(c.Command, func(ctx context.Context) *exec.Cmd {
		return e.command(ctx, c)
	})
}

func newCommandError(line string, err error) *CommandError {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{Command: line, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &CommandError{Command: line, ExitCode: -1, Err: err}
}

// Scope owns the background commands of one phase. Close kills their
// process groups and waits for them to exit.
type Scope struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger

	mu      sync.Mutex
	closed  bool
	running []*background
}

type background struct {
	line string
	done chan struct{}
	err  error
}

func (s *Scope) start(line string, build func(context.Context) *exec.Cmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &CommandError{Command: line, ExitCode: -1, Err: fmt.Errorf("scope %s is closed", s.name)}
	}

	cmd := build(s.ctx)
	if err := cmd.Start(); err != nil {
		return newCommandError(line, err)
	}

	bg := &background{line: line, done: make(chan struct{})}
	go func() {
		bg.err = cmd.Wait()
		close(bg.done)
	}()
	s.running = append(s.running, bg)
	return nil
}

// Len returns the number of background commands started in the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Close stops every background command and waits for it. It is safe to
// call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.running
	s.running = nil
	s.mu.Unlock()

	s.cancel()
	for _, bg := range running {
		<-bg.done
		s.logger.Debug("Background command stopped", "scope", s.name, "command", bg.line)
	}
	return nil
}
