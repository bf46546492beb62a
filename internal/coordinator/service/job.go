package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
	"github.com/nemanja-m/gojob/internal/shared/archive"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

// JobOptions wires a Job to its collaborators. Store, Executors and Lifecycle
// are optional.
type JobOptions struct {
	// URL is the address executors use to reach the coordinator.
	URL string
	// WorkDir receives extracted chunk uploads.
	WorkDir   string
	Store     core.ArchiveStore
	Executors core.ExecutorService
	Lifecycle *ExecutorManager
}

// Job coordinates one run: it hands queued chunks to executors on request
// and collects their uploaded results.
type Job[T any] struct {
	id        string
	url       string
	workDir   string
	policy    core.Policy[T]
	archive   []byte
	digest    string
	store     core.ArchiveStore
	executors core.ExecutorService
	lifecycle *ExecutorManager
	logger    logging.Logger

	chunkCounter    atomic.Int64
	executorCounter atomic.Int64

	mu        sync.Mutex
	queue     *core.ChunkQueue[T]
	chunks    map[string]*core.Chunk[T]
	order     []*core.Chunk[T]
	uploading map[string]struct{}
	completed int
}

// NewJob creates a job serving the given packed source archive.
func NewJob[T any](policy core.Policy[T], sourceArchive []byte, opts JobOptions, logger logging.Logger) *Job[T] {
	if sourceArchive == nil {
		sourceArchive = []byte{}
	}
	return &Job[T]{
		id:        uuid.NewString(),
		url:       opts.URL,
		workDir:   opts.WorkDir,
		policy:    policy,
		archive:   sourceArchive,
		digest:    archive.Digest(sourceArchive),
		store:     opts.Store,
		executors: opts.Executors,
		lifecycle: opts.Lifecycle,
		logger:    logger,
		queue:     core.NewChunkQueue[T](),
		chunks:    make(map[string]*core.Chunk[T]),
		uploading: make(map[string]struct{}),
	}
}

func (j *Job[T]) ID() string {
	return j.id
}

func (j *Job[T]) URL() string {
	return j.url
}

// Submit queues value as a new chunk and returns its future.
func (j *Job[T]) Submit(value T) *core.Future[T] {
	id := strconv.FormatInt(j.chunkCounter.Add(1), 10)
	chunk := core.NewChunk(id, value)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.chunks[id] = chunk
	j.order = append(j.order, chunk)
	_ = j.queue.Push(chunk)
	return chunk.Future
}

// Chunks returns all submitted chunks in submission order.
func (j *Job[T]) Chunks() []*core.Chunk[T] {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*core.Chunk[T](nil), j.order...)
}

// Start spawns the policy's executors.
func (j *Job[T]) Start(ctx context.Context) error {
	if j.lifecycle == nil {
		return nil
	}
	return j.lifecycle.Start(ctx, j.policy, j.id, j.url)
}

// Handle answers one RPC. Errors are *protocol.Error for malformed or
// unexpected messages.
func (j *Job[T]) Handle(ctx context.Context, m *protocol.Message) (*protocol.Message, error) {
	switch m.Method {
	case protocol.MethodDownload:
		return j.download(), nil
	case protocol.MethodInit:
		return j.init(m), nil
	case protocol.MethodNext:
		return j.next(m)
	case protocol.MethodUpload:
		return j.upload(ctx, m)
	case protocol.MethodHeartbeat:
		return j.heartbeat(m), nil
	case protocol.MethodError:
		return j.executorError(m), nil
	default:
		return nil, protocol.Errorf(m.Method, "%w: %q", protocol.ErrUnknownMethod, m.Method)
	}
}

func (j *Job[T]) reply(method protocol.Method, executorID string) *protocol.Message {
	return &protocol.Message{Method: method, JobID: j.id, ExecutorID: executorID}
}

func (j *Job[T]) download() *protocol.Message {
	executorID := strconv.FormatInt(j.executorCounter.Add(1), 10)
	if j.executors != nil {
		if err := j.executors.RegisterExecutor(executorID); err != nil {
			j.logger.Error("Failed to register executor", "executor_id", executorID, "error", err)
		}
	}
	j.logger.Info("Executor downloading source", "executor_id", executorID, "bytes", len(j.archive))

	m := j.reply(protocol.MethodDownload, executorID)
	m.Bytes = j.archive
	m.Digest = j.digest
	return m
}

func (j *Job[T]) init(req *protocol.Message) *protocol.Message {
	j.logger.Debug("Executor initializing", "executor_id", req.ExecutorID)

	m := j.reply(protocol.MethodInit, req.ExecutorID)
	m.PutCommands(protocol.KeyStartupCommands, j.policy.StartupCommands())
	m.PutCommands(protocol.KeyShutdownCommands, j.policy.ShutdownCommands())
	m.PutEnvironment(j.policy.Environment())
	m.Put(protocol.KeyExecutorDir, j.policy.UploadDir())
	return m
}

// dequeue pops the next chunk and assigns it to executorID.
func (j *Job[T]) dequeue(executorID string) (*core.Chunk[T], bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	chunk, err := j.queue.Pop()
	if err != nil {
		return nil, false
	}
	chunk.ExecutorID = executorID
	chunk.StartTime = time.Now()
	return chunk, true
}

func (j *Job[T]) next(req *protocol.Message) (*protocol.Message, error) {
	if err := core.CheckID(req.ExecutorID); err != nil {
		return nil, protocol.Errorf(req.Method, "executor id: %w", err)
	}
	if req.ChunkID != "" {
		j.logger.Debug("Executor finished chunk", "executor_id", req.ExecutorID, "chunk_id", req.ChunkID)
	}

	chunk, ok := j.dequeue(req.ExecutorID)
	if !ok {
		j.logger.Info("No chunks left, stopping executor", "executor_id", req.ExecutorID)
		return j.reply(protocol.MethodStop, req.ExecutorID), nil
	}

	cc := core.ChunkContext[T]{
		JobID:       j.id,
		ExecutorID:  req.ExecutorID,
		ChunkID:     chunk.ID,
		Value:       chunk.Value,
		ExecutorDir: req.GetString(protocol.KeyExecutorDir),
	}

	m := j.reply(protocol.MethodNext, req.ExecutorID)
	m.ChunkID = chunk.ID
	m.PutCommands(protocol.KeyPreCommands, j.policy.PreCommands(cc))
	m.PutCommands(protocol.KeyMainCommands, j.policy.MainCommands(cc))
	m.PutCommands(protocol.KeyPostCommands, j.policy.PostCommands(cc))

	j.logger.Info("Chunk dispatched", "executor_id", req.ExecutorID, "chunk_id", chunk.ID)
	return m, nil
}

func (j *Job[T]) upload(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	if req.ChunkID == "" {
		return nil, protocol.Errorf(req.Method, "missing chunk id")
	}
	if !req.IsBinary() {
		return nil, protocol.Errorf(req.Method, "chunk %s: upload body must be binary", req.ChunkID)
	}

	chunk, claimed, err := j.claim(req)
	if err != nil {
		return nil, err
	}

	ack := j.reply(protocol.MethodUpload, req.ExecutorID)
	ack.ChunkID = req.ChunkID

	if !claimed {
		j.logger.Warn("Ignoring duplicate upload", "executor_id", req.ExecutorID, "chunk_id", req.ChunkID)
		return ack, nil
	}
	defer j.release(chunk.ID)

	// The extraction path uses the executor the chunk was dispatched to.
	executorID := chunk.ExecutorID
	if req.ExecutorID != "" && req.ExecutorID != executorID {
		j.logger.Warn("Upload from a different executor", "executor_id", req.ExecutorID, "assigned_to", executorID, "chunk_id", chunk.ID)
	}

	if j.store != nil {
		location, err := j.store.Save(ctx, j.id, executorID, chunk.ID, req.Bytes)
		if err != nil {
			j.logger.Error("Failed to store upload", "chunk_id", chunk.ID, "error", err)
		} else {
			j.logger.Debug("Upload stored", "chunk_id", chunk.ID, "location", location)
		}
	}

	value, err := j.extract(ctx, core.ChunkDir(j.workDir, j.id, executorID, chunk.ID), req.Bytes, chunk)
	j.complete(chunk, value, err)
	return ack, nil
}

// claim looks up the uploaded chunk and marks it as uploading. claimed is
// false when the chunk is already resolved or another upload holds it.
func (j *Job[T]) claim(req *protocol.Message) (chunk *core.Chunk[T], claimed bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	chunk, ok := j.chunks[req.ChunkID]
	if !ok {
		return nil, false, protocol.Errorf(req.Method, "unknown chunk id %q", req.ChunkID)
	}
	if chunk.StartTime.IsZero() {
		return nil, false, protocol.Errorf(req.Method, "chunk %s has not been dispatched", req.ChunkID)
	}
	if _, busy := j.uploading[chunk.ID]; busy || chunk.Future.Resolved() {
		return chunk, false, nil
	}
	j.uploading[chunk.ID] = struct{}{}
	return chunk, true, nil
}

func (j *Job[T]) release(chunkID string) {
	j.mu.Lock()
	delete(j.uploading, chunkID)
	j.mu.Unlock()
}

func (j *Job[T]) extract(ctx context.Context, dir string, data []byte, chunk *core.Chunk[T]) (T, error) {
	if err := archive.Unpack(data, dir); err != nil {
		var zero T
		return zero, err
	}
	return j.policy.HandleUpload(ctx, dir, chunk)
}

func (j *Job[T]) complete(chunk *core.Chunk[T], value T, err error) {
	j.mu.Lock()
	if chunk.Future.Resolved() {
		j.mu.Unlock()
		j.logger.Warn("Ignoring duplicate upload", "chunk_id", chunk.ID)
		return
	}
	chunk.EndTime = time.Now()
	chunk.Future.Resolve(value, err)
	j.completed++
	completed, total := j.completed, len(j.order)
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("Chunk failed", "chunk_id", chunk.ID, "executor_id", chunk.ExecutorID, "error", err)
	}
	j.logger.Info(
		"Chunk completed",
		"chunk_id", chunk.ID,
		"executor_id", chunk.ExecutorID,
		"duration", chunk.Duration().String(),
		"completed", completed,
		"total", total,
	)
}

func (j *Job[T]) heartbeat(req *protocol.Message) *protocol.Message {
	j.logger.Debug("Heartbeat", "executor_id", req.ExecutorID, "chunk_id", req.ChunkID)
	if j.executors != nil {
		if err := j.executors.RecordHeartbeat(req.ExecutorID, req.ChunkID); err != nil {
			j.logger.Warn("Heartbeat from unknown executor", "executor_id", req.ExecutorID, "error", err)
		}
	}
	return j.reply(protocol.MethodHeartbeat, req.ExecutorID)
}

func (j *Job[T]) executorError(req *protocol.Message) *protocol.Message {
	j.logger.Error(
		"Executor reported error",
		"executor_id", req.ExecutorID,
		"chunk_id", req.ChunkID,
		"log", req.GetString(protocol.KeyLog),
	)
	return j.reply(protocol.MethodError, req.ExecutorID)
}

// WaitForCompletion blocks until every chunk submitted so far is resolved
// and then stops the executors. Results follow submission order; failed
// chunks contribute a zero value and their errors are joined into the
// returned error. If ctx ends first the executors are still stopped and
// ctx.Err() is returned.
func (j *Job[T]) WaitForCompletion(ctx context.Context) ([]T, error) {
	chunks := j.Chunks()
	results := make([]T, 0, len(chunks))
	var errs []error

	for _, chunk := range chunks {
		value, err := chunk.Future.Wait(ctx)
		if err != nil && !chunk.Future.Resolved() {
			return nil, errors.Join(ctx.Err(), j.shutdown())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk %s: %w", chunk.ID, err))
		}
		results = append(results, value)
	}

	j.logger.Info("All chunks completed", "job_id", j.id, "chunks", len(chunks), "failed", len(errs))
	j.logExecutors()
	errs = append(errs, j.shutdown())
	return results, errors.Join(errs...)
}

// logExecutors writes the final executor roster.
func (j *Job[T]) logExecutors() {
	if j.executors == nil {
		return
	}
	executors, err := j.executors.GetAllExecutors()
	if err != nil {
		j.logger.Warn("Failed to list executors", "error", err)
		return
	}
	for _, e := range executors {
		j.logger.Info(
			"Executor summary",
			"executor_id", e.ID,
			"status", string(e.Status),
			"last_chunk_id", e.ChunkID,
			"last_heartbeat", e.LastHeartbeatAt.Format(time.RFC3339),
		)
	}
}

func (j *Job[T]) shutdown() error {
	if j.lifecycle == nil {
		return nil
	}
	return j.lifecycle.Stop(j.policy.ShutdownTimeout())
}
