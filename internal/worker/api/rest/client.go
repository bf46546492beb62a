package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
	"github.com/nemanja-m/gojob/internal/shared/tracing"
	"github.com/nemanja-m/gojob/internal/worker/core"
)

var ErrUnhealthy = errors.New("coordinator did not become healthy")

// StatusError is a non-200 reply from the coordinator.
type StatusError struct {
	Method protocol.Method
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: coordinator returned %d: %s", e.Method, e.Code, e.Body)
}

// CoordinatorClient talks to the coordinator over the HTTP RPC protocol.
type CoordinatorClient struct {
	url            string
	httpClient     *http.Client
	structuredType string
	healthAttempts int
	healthInterval time.Duration
	logger         logging.Logger

	mu    sync.Mutex
	jobID string
}

var _ core.CoordinatorClient = (*CoordinatorClient)(nil)

func NewCoordinatorClient(cfg config.CoordinatorConnConfig, logger logging.Logger) *CoordinatorClient {
	return &CoordinatorClient{
		url:            strings.TrimRight(cfg.URL, "/"),
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		structuredType: protocol.ContentTypeJSON,
		healthAttempts: cfg.HealthAttempts,
		healthInterval: cfg.HealthInterval,
		logger:         logger,
	}
}

// UseProtobuf switches structured bodies to binary protobuf.
func (c *CoordinatorClient) UseProtobuf() {
	c.structuredType = protocol.ContentTypeProtobuf
}

// WaitForHealthy polls GET /healthcheck until it answers 200, giving up
// after the configured number of attempts.
func (c *CoordinatorClient) WaitForHealthy(ctx context.Context) error {
	attempts := max(c.healthAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.healthcheck(ctx)
		if lastErr == nil {
			c.logger.Debug("Coordinator is healthy", "url", c.url, "attempt", attempt)
			return nil
		}
		c.logger.Debug("Waiting for coordinator", "url", c.url, "attempt", attempt, "error", lastErr)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.healthInterval):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, attempts, lastErr)
}

func (c *CoordinatorClient) healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/healthcheck", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
	}
	return nil
}

func (c *CoordinatorClient) Download(ctx context.Context) (*protocol.Message, error) {
	reply, err := c.call(ctx, protocol.New(protocol.MethodDownload))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.jobID = reply.JobID
	c.mu.Unlock()
	return reply, nil
}

func (c *CoordinatorClient) Init(ctx context.Context, executorID string) (*protocol.Message, error) {
	return c.call(ctx, c.message(protocol.MethodInit, executorID, ""))
}

func (c *CoordinatorClient) Next(ctx context.Context, executorID, previousChunkID, executorDir string) (*protocol.Message, error) {
	m := c.message(protocol.MethodNext, executorID, previousChunkID)
	m.Put(protocol.KeyExecutorDir, executorDir)
	return c.call(ctx, m)
}

func (c *CoordinatorClient) Upload(ctx context.Context, executorID, chunkID string, data []byte) error {
	m := c.message(protocol.MethodUpload, executorID, chunkID)
	if data == nil {
		data = []byte{}
	}
	m.Bytes = data
	_, err := c.call(ctx, m)
	return err
}

func (c *CoordinatorClient) Heartbeat(ctx context.Context, executorID, chunkID string) error {
	_, err := c.call(ctx, c.message(protocol.MethodHeartbeat, executorID, chunkID))
	return err
}

func (c *CoordinatorClient) ReportError(ctx context.Context, executorID, chunkID, log string) error {
	m := c.message(protocol.MethodError, executorID, chunkID)
	m.Put(protocol.KeyLog, log)
	_, err := c.call(ctx, m)
	return err
}

func (c *CoordinatorClient) message(method protocol.Method, executorID, chunkID string) *protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &protocol.Message{
		Method:     method,
		JobID:      c.jobID,
		ExecutorID: executorID,
		ChunkID:    chunkID,
	}
}

func (c *CoordinatorClient) call(ctx context.Context, m *protocol.Message) (*protocol.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "gojob."+string(m.Method), trace.SpanKindClient, map[string]string{
		"gojob.method":      string(m.Method),
		"gojob.executor_id": m.ExecutorID,
		"gojob.chunk_id":    m.ChunkID,
	})

	req, err := protocol.NewRequest(ctx, c.url+"/", m, c.structuredType)
	if err != nil {
		span.End(err)
		return nil, err
	}
	tracing.Inject(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%s: %w", m.Method, err)
		span.End(err)
		return nil, err
	}
	defer resp.Body.Close()
	span.SetStatusFromHTTPCode(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &StatusError{Method: m.Method, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		span.End(err)
		return nil, err
	}

	reply, err := protocol.ReadResponse(resp)
	span.End(err)
	return reply, err
}
