package core

import (
	"context"
	"time"

	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

// Policy decides how a job runs: how many executors to spawn and how each
// chunk becomes shell commands and, once uploaded, a result.
type Policy[T any] interface {
	ExecutorCount() int
	Host() string
	Port() int

	// StartupCommands run once per executor before the first chunk.
	// Background commands among them live until the executor shuts down.
	StartupCommands() []protocol.Command
	ShutdownCommands() []protocol.Command
	Environment() map[string]string
	// UploadDir is the executor-relative directory whose contents are
	// uploaded after each chunk.
	UploadDir() string

	PreCommands(cc ChunkContext[T]) []protocol.Command
	MainCommands(cc ChunkContext[T]) []protocol.Command
	PostCommands(cc ChunkContext[T]) []protocol.Command

	// ExecutorCommand returns the command line spawning executor index.
	// An empty line skips that index.
	ExecutorCommand(jobID, jobURL string, index int) string
	// HandleUpload turns an extracted chunk upload into its result.
	HandleUpload(ctx context.Context, dir string, chunk *Chunk[T]) (T, error)

	ShutdownTimeout() time.Duration
}
