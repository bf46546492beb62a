package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

type fakeHandler struct {
	mu       sync.Mutex
	received []*protocol.Message
	reply    func(m *protocol.Message) (*protocol.Message, error)
}

func (f *fakeHandler) Handle(ctx context.Context, m *protocol.Message) (*protocol.Message, error) {
	f.mu.Lock()
	f.received = append(f.received, m)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(m)
	}
	return &protocol.Message{Method: m.Method, ExecutorID: m.ExecutorID}, nil
}

func newTestServer(t *testing.T, handler Handler) *httptest.Server {
	t.Helper()
	srv := NewServer(config.ServerConfig{MaxBodyBytes: 1 << 20}, handler, newMockLogger())
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func send(t *testing.T, url string, m *protocol.Message, structuredType string) *http.Response {
	t.Helper()
	req, err := protocol.NewRequest(context.Background(), url, m, structuredType)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRPCRoundTrip(t *testing.T) {
	handler := &fakeHandler{
		reply: func(m *protocol.Message) (*protocol.Message, error) {
			reply := &protocol.Message{Method: protocol.MethodNext, JobID: "job", ExecutorID: m.ExecutorID, ChunkID: "1"}
			reply.PutCommands(protocol.KeyMainCommands, []protocol.Command{{Command: "echo 1"}})
			return reply, nil
		},
	}
	ts := newTestServer(t, handler)

	for _, structuredType := range []string{protocol.ContentTypeJSON, protocol.ContentTypeProtobuf} {
		t.Run(structuredType, func(t *testing.T) {
			req := &protocol.Message{Method: protocol.MethodNext, ExecutorID: "2"}
			req.Put(protocol.KeyExecutorDir, "target")
			resp := send(t, ts.URL+"/", req, structuredType)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			reply, err := protocol.ReadResponse(resp)
			require.NoError(t, err)
			assert.Equal(t, protocol.MethodNext, reply.Method)
			assert.Equal(t, "2", reply.ExecutorID)
			assert.Equal(t, "1", reply.ChunkID)

			commands, err := reply.Commands(protocol.KeyMainCommands)
			require.NoError(t, err)
			require.Len(t, commands, 1)
			assert.Equal(t, "echo 1", commands[0].Command)
		})
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.received, 2)
	assert.Equal(t, "target", handler.received[0].GetString(protocol.KeyExecutorDir))
}

func TestRPCBinaryBody(t *testing.T) {
	handler := &fakeHandler{
		reply: func(m *protocol.Message) (*protocol.Message, error) {
			return &protocol.Message{Method: protocol.MethodDownload, ExecutorID: "1", Bytes: []byte("zip"), Digest: "abc"}, nil
		},
	}
	ts := newTestServer(t, handler)

	resp := send(t, ts.URL+"/", protocol.New(protocol.MethodDownload), protocol.ContentTypeJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.ContentTypeBinary, resp.Header.Get("Content-Type"))

	reply, err := protocol.ReadResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), reply.Bytes)
	assert.Equal(t, "abc", reply.Digest)
}

func TestRPCMissingMethod(t *testing.T) {
	ts := newTestServer(t, &fakeHandler{})

	resp, err := http.Post(ts.URL+"/", protocol.ContentTypeJSON, strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRPCProtocolError(t *testing.T) {
	handler := &fakeHandler{
		reply: func(m *protocol.Message) (*protocol.Message, error) {
			return nil, protocol.Errorf(m.Method, "unknown chunk id %q", "42")
		},
	}
	ts := newTestServer(t, handler)

	resp := send(t, ts.URL+"/", &protocol.Message{Method: protocol.MethodUpload, ChunkID: "42", Bytes: []byte{}}, protocol.ContentTypeJSON)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRPCInternalError(t *testing.T) {
	handler := &fakeHandler{
		reply: func(m *protocol.Message) (*protocol.Message, error) {
			return nil, errors.New("boom")
		},
	}
	ts := newTestServer(t, handler)

	resp := send(t, ts.URL+"/", protocol.New(protocol.MethodInit), protocol.ContentTypeJSON)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealthcheck(t *testing.T) {
	ts := newTestServer(t, &fakeHandler{})

	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	handler := &fakeHandler{}
	ts := newTestServer(t, handler)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPut, "/"},
		{http.MethodPost, "/jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		})
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Empty(t, handler.received)
}

func TestNewServerConfig(t *testing.T) {
	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Second,
	}

	srv := NewServer(cfg, &fakeHandler{}, newMockLogger())

	assert.Equal(t, "127.0.0.1:8080", srv.Addr)
	assert.Equal(t, time.Minute, srv.ReadTimeout)
	assert.Equal(t, 2*time.Minute, srv.WriteTimeout)
	assert.Equal(t, time.Second, srv.IdleTimeout)
}
