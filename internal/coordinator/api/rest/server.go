package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
	"github.com/nemanja-m/gojob/internal/shared/tracing"
)

// Handler answers one decoded RPC.
type Handler interface {
	Handle(ctx context.Context, m *protocol.Message) (*protocol.Message, error)
}

type API struct {
	handler      Handler
	maxBodyBytes int64
	logger       logging.Logger
}

func NewAPI(handler Handler, maxBodyBytes int64, logger logging.Logger) *API {
	return &API{
		handler:      handler,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /{$}", a.rpc)
	mux.HandleFunc("GET /healthcheck", a.healthcheck)
	mux.HandleFunc("/", a.methodNotAllowed)
}

// rpc handles POST / carrying one protocol message.
func (a *API) rpc(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(tracing.Extract(r.Context(), r.Header), "gojob.rpc", trace.SpanKindServer, map[string]string{
		"gojob.method":      r.Header.Get(protocol.HeaderMethod),
		"gojob.executor_id": r.Header.Get(protocol.HeaderExecutorID),
		"gojob.chunk_id":    r.Header.Get(protocol.HeaderChunkID),
	})

	req, err := protocol.ReadRequest(w, r, a.maxBodyBytes)
	if err != nil {
		a.respondError(w, span, http.StatusBadRequest, err)
		return
	}

	reply, err := a.handler.Handle(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		var perr *protocol.Error
		if errors.As(err, &perr) {
			status = http.StatusBadRequest
		}
		a.respondError(w, span, status, err)
		return
	}

	span.SetAttribute("gojob.reply", string(reply.Method))
	span.SetAttribute("gojob.chunk_id", reply.ChunkID)
	if err := protocol.WriteResponse(w, reply, protocol.StructuredType(r)); err != nil {
		a.logger.Error("Failed to write response", "rpc", req.Method, "error", err)
		span.End(err)
		return
	}
	span.SetStatusFromHTTPCode(http.StatusOK)
	span.End(nil)
}

func (a *API) healthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

func (a *API) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET /healthcheck, POST /")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (a *API) respondError(w http.ResponseWriter, span *tracing.Span, statusCode int, err error) {
	if statusCode >= http.StatusInternalServerError {
		a.logger.Error("RPC failed", "error", err)
	} else {
		a.logger.Warn("Rejected RPC", "error", err)
	}
	span.SetStatusFromHTTPCode(statusCode)
	span.End(err)
	http.Error(w, err.Error(), statusCode)
}

// NewServer builds the coordinator HTTP server for cfg. The caller owns the
// listener so the bound port is known before executors are spawned.
func NewServer(cfg config.ServerConfig, handler Handler, logger logging.Logger) *http.Server {
	api := NewAPI(handler, cfg.MaxBodyBytes, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	return &http.Server{
		Addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: ChainMiddleware(
			mux,
			LoggingMiddleware(logger),
			RecoveryMiddleware(logger),
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
