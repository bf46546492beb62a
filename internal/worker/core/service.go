package core

import (
	"context"

	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

// CoordinatorClient is the executor side of the RPC protocol. Every call
// after Download carries the job and executor ids it returned.
type CoordinatorClient interface {
	WaitForHealthy(ctx context.Context) error
	Download(ctx context.Context) (*protocol.Message, error)
	Init(ctx context.Context, executorID string) (*protocol.Message, error)
	Next(ctx context.Context, executorID, previousChunkID, executorDir string) (*protocol.Message, error)
	Upload(ctx context.Context, executorID, chunkID string, data []byte) error
	Heartbeat(ctx context.Context, executorID, chunkID string) error
	ReportError(ctx context.Context, executorID, chunkID, log string) error
}

type WorkerService interface {
	Run(ctx context.Context) error
}
