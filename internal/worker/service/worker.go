package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/gojob/internal/shared/archive"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
	"github.com/nemanja-m/gojob/internal/worker/core"
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	// ChunkLogFile holds the command output of a chunk inside its upload.
	ChunkLogFile = "gojob-executor.log"

	reportTimeout = 10 * time.Second
)

var ErrUnexpectedReply = errors.New("unexpected reply")

type Options struct {
	// WorkDir receives the job workspace <jobId>_<executorId>.
	WorkDir           string
	HeartbeatInterval time.Duration
	Stdout            io.Writer
	Stderr            io.Writer
}

// session is the state established by download and init.
type session struct {
	workspace   string
	executorDir string
	executor    *CommandExecutor
	scope       *Scope
	shutdown    []protocol.Command
}

type workerService struct {
	client core.CoordinatorClient
	opts   Options
	logger logging.Logger

	executorID string

	mu      sync.Mutex
	chunkID string
}

func NewWorkerService(client core.CoordinatorClient, opts Options, logger logging.Logger) core.WorkerService {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &workerService{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Run executes one executor session: download, init, chunks until stop,
// then shutdown. A failure after download is reported to the coordinator
// before it is returned.
func (w *workerService) Run(ctx context.Context) error {
	if err := w.client.WaitForHealthy(ctx); err != nil {
		return fmt.Errorf("coordinator unavailable: %w", err)
	}

	s, err := w.setup(ctx)
	if err != nil {
		w.reportError(err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	heartbeatCtx, stopHeartbeat := context.WithCancel(gctx)

	g.Go(func() error {
		w.runHeartbeatLoop(heartbeatCtx)
		return nil
	})
	g.Go(func() error {
		defer stopHeartbeat()
		return w.runSession(gctx, s)
	})

	if err := g.Wait(); err != nil {
		w.reportError(err)
		return err
	}
	return nil
}

func (w *workerService) setup(ctx context.Context) (*session, error) {
	download, err := w.client.Download(ctx)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if download.ExecutorID == "" {
		return nil, fmt.Errorf("%w: download returned no executor id", ErrUnexpectedReply)
	}
	w.executorID = download.ExecutorID

	if download.Digest != "" {
		if err := archive.Verify(download.Bytes, download.Digest); err != nil {
			return nil, err
		}
	}

	workspace, err := filepath.Abs(filepath.Join(w.opts.WorkDir, download.JobID+"_"+download.ExecutorID))
	if err != nil {
		return nil, err
	}
	if err := archive.Unpack(download.Bytes, workspace); err != nil {
		return nil, err
	}
	w.logger.Info("Download done", "job_id", download.JobID, "executor_id", w.executorID, "workspace", workspace)

	initReply, err := w.client.Init(ctx, w.executorID)
	if err != nil {
		return nil, fmt.Errorf("init failed: %w", err)
	}
	startup, err := initReply.Commands(protocol.KeyStartupCommands)
	if err != nil {
		return nil, err
	}
	shutdown, err := initReply.Commands(protocol.KeyShutdownCommands)
	if err != nil {
		return nil, err
	}

	hint := initReply.GetString(protocol.KeyExecutorDir)
	executorDir, ok := resolveExecutorDir(workspace, hint)
	if !ok {
		w.logger.Warn("Executor dir must stay inside the workspace, using default", "hint", hint, "default", protocol.DefaultExecutorDir)
	}

	executor := NewCommandExecutor(workspace, environ(initReply.Environment()), w.opts.Stdout, w.opts.Stderr, w.logger)
	s := &session{
		workspace:   workspace,
		executorDir: executorDir,
		executor:    executor,
		scope:       executor.NewScope("session"),
		shutdown:    shutdown,
	}

	if err := executor.Run(ctx, startup, s.scope); err != nil {
		s.scope.Close()
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	w.logger.Info("Init done", "executor_id", w.executorID, "executor_dir", s.executorDir)
	return s, nil
}

func (w *workerService) runSession(ctx context.Context, s *session) error {
	defer s.scope.Close()

	previous := ""
	for {
		if err := os.MkdirAll(s.executorDir, 0o755); err != nil {
			return err
		}

		reply, err := w.client.Next(ctx, w.executorID, previous, s.executorDir)
		if err != nil {
			return fmt.Errorf("next failed: %w", err)
		}
		switch reply.Method {
		case protocol.MethodStop:
			w.logger.Info("Stop received, shutting down", "executor_id", w.executorID)
			return w.shutdown(ctx, s)
		case protocol.MethodNext:
		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Method)
		}

		w.setChunkID(reply.ChunkID)
		if err := w.runChunk(ctx, s, reply); err != nil {
			return fmt.Errorf("chunk %s: %w", reply.ChunkID, err)
		}
		previous = reply.ChunkID
	}
}

func (w *workerService) runChunk(ctx context.Context, s *session, reply *protocol.Message) error {
	pre, err := reply.Commands(protocol.KeyPreCommands)
	if err != nil {
		return err
	}
	mainCommands, err := reply.Commands(protocol.KeyMainCommands)
	if err != nil {
		return err
	}
	post, err := reply.Commands(protocol.KeyPostCommands)
	if err != nil {
		return err
	}

	w.logger.Info("Chunk started", "executor_id", w.executorID, "chunk_id", reply.ChunkID)

	output := &syncBuffer{}
	s.executor.SetOutput(io.MultiWriter(w.opts.Stdout, output), io.MultiWriter(w.opts.Stderr, output))
	defer s.executor.SetOutput(w.opts.Stdout, w.opts.Stderr)

	scope := s.executor.NewScope("chunk " + reply.ChunkID)
	defer scope.Close()

	if err := s.executor.Run(ctx, pre, scope); err != nil {
		return err
	}
	if err := s.executor.Run(ctx, mainCommands, scope); err != nil {
		return err
	}
	scope.Close()

	postScope := s.executor.NewScope("post " + reply.ChunkID)
	defer postScope.Close()
	if err := s.executor.Run(ctx, post, postScope); err != nil {
		return err
	}
	postScope.Close()

	if err := os.MkdirAll(s.executorDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.executorDir, ChunkLogFile), output.Bytes(), 0o644); err != nil {
		return err
	}

	// Each chunk starts with a fresh executor dir; the finished one keeps
	// the chunk id as a suffix.
	chunkDir := s.executorDir + "_" + reply.ChunkID
	if err := os.RemoveAll(chunkDir); err != nil {
		return err
	}
	if err := os.Rename(s.executorDir, chunkDir); err != nil {
		return err
	}

	data, err := archive.Pack(chunkDir, archive.PackOptions{})
	if err != nil {
		return err
	}
	if err := w.client.Upload(ctx, w.executorID, reply.ChunkID, data); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	w.logger.Info("Chunk uploaded", "executor_id", w.executorID, "chunk_id", reply.ChunkID, "bytes", len(data))
	return nil
}

func (w *workerService) shutdown(ctx context.Context, s *session) error {
	s.scope.Close()
	if err := s.executor.Run(ctx, s.shutdown, nil); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	w.logger.Info("Shutdown complete", "executor_id", w.executorID)
	return nil
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx, w.executorID, w.currentChunkID()); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("Failed to send heartbeat", "error", err)
			} else {
				w.logger.Debug("Heartbeat sent successfully")
			}
		}
	}
}

func (w *workerService) reportError(err error) {
	w.logger.Error("Executor failed", "executor_id", w.executorID, "chunk_id", w.currentChunkID(), "error", err)
	if w.executorID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if reportErr := w.client.ReportError(ctx, w.executorID, w.currentChunkID(), err.Error()); reportErr != nil {
		w.logger.Error("Failed to report error", "error", reportErr)
	}
}

func (w *workerService) setChunkID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunkID = id
}

func (w *workerService) currentChunkID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunkID
}

// environ returns the process environment extended with extra. Entries in
// extra win.
func environ(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// syncBuffer collects the output of concurrently running commands.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// resolveExecutorDir places hint below workspace. Empty hints and hints that
// resolve to the workspace itself or outside it fall back to
// protocol.DefaultExecutorDir; ok is false only for the latter.
func resolveExecutorDir(workspace, hint string) (dir string, ok bool) {
	fallback := filepath.Join(workspace, protocol.DefaultExecutorDir)
	if hint == "" {
		return fallback, true
	}
	dir = filepath.Join(workspace, hint)
	rel, err := filepath.Rel(workspace, dir)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return fallback, false
	}
	return dir, true
}
