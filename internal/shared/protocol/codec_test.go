package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m *Message, structuredType string) *Message {
	t.Helper()

	var received *Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		received, err = ReadRequest(w, r, 0)
		require.NoError(t, err)

		reply := New(MethodNext)
		reply.ChunkID = received.ChunkID
		reply.Put(KeyExecutorDir, received.GetString(KeyExecutorDir))
		require.NoError(t, WriteResponse(w, reply, StructuredType(r)))
	}))
	defer srv.Close()

	req, err := NewRequest(context.Background(), srv.URL, m, structuredType)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reply, err := ReadResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, m.ChunkID, reply.ChunkID)
	assert.Equal(t, m.GetString(KeyExecutorDir), reply.GetString(KeyExecutorDir))
	if !m.IsBinary() {
		assert.Equal(t, structuredType, resp.Header.Get("Content-Type"))
	}
	return received
}

func TestCodec_StructuredBody(t *testing.T) {
	for _, ct := range []string{ContentTypeJSON, ContentTypeProtobuf} {
		t.Run(ct, func(t *testing.T) {
			m := New(MethodNext).Put(KeyExecutorDir, "/work/j_1/reports")
			m.JobID, m.ExecutorID, m.ChunkID = "job", "1", "4"

			got := roundTrip(t, m, ct)
			assert.Equal(t, MethodNext, got.Method)
			assert.Equal(t, "job", got.JobID)
			assert.Equal(t, "1", got.ExecutorID)
			assert.False(t, got.IsBinary())
			assert.Equal(t, "/work/j_1/reports", got.GetString(KeyExecutorDir))
		})
	}
}

func TestCodec_BinaryBody(t *testing.T) {
	m := &Message{Method: MethodUpload, ChunkID: "3", Bytes: []byte{0x50, 0x4b, 0x03, 0x04}}

	got := roundTrip(t, m, ContentTypeJSON)
	assert.True(t, got.IsBinary())
	assert.Equal(t, m.Bytes, got.Bytes)
	assert.Equal(t, "3", got.ChunkID)
}

func TestReadRequest_Errors(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		wantErr     error
	}{
		{"missing method", "", ContentTypeJSON, "{}", ErrMissingMethod},
		{"unsupported content type", "init", "text/plain", "hello", ErrUnsupportedContentType},
		{"malformed json", "init", ContentTypeJSON, "{not json", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			if tt.method != "" {
				req.Header.Set(HeaderMethod, tt.method)
			}

			_, err := ReadRequest(httptest.NewRecorder(), req, 0)
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestReadRequest_EmptyStructuredBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderMethod, "download")

	m, err := ReadRequest(httptest.NewRecorder(), req, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodDownload, m.Method)
	assert.False(t, m.IsBinary())
	assert.Nil(t, m.Body)
}

func TestReadRequest_BodyLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set(HeaderMethod, "upload")
	req.Header.Set("Content-Type", ContentTypeBinary)

	_, err := ReadRequest(httptest.NewRecorder(), req, 16)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, MethodUpload, perr.Method)
}

func TestEncodeBody_UnsupportedValue(t *testing.T) {
	m := &Message{Method: MethodInit, Body: map[string]any{"bad": struct{}{}}}

	_, err := NewRequest(context.Background(), "http://localhost", m, ContentTypeJSON)
	var perr *Error
	assert.True(t, errors.As(err, &perr))
}
