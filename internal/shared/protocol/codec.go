package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeBinary   = "application/octet-stream"
)

// NewRequest builds a POST request for m. Structured bodies are encoded with
// structuredType, which is ContentTypeJSON or ContentTypeProtobuf.
func NewRequest(ctx context.Context, url string, m *Message, structuredType string) (*http.Request, error) {
	body, contentType, err := encodeBody(m, structuredType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	writeHeaders(req.Header, m)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", structuredType)
	return req, nil
}

// ReadRequest decodes an RPC request. The body is capped at limit bytes when
// limit is positive.
func ReadRequest(w http.ResponseWriter, r *http.Request, limit int64) (*Message, error) {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	return decode(r.Header, body)
}

// WriteResponse writes m as the response. Structured bodies are encoded with
// structuredType.
func WriteResponse(w http.ResponseWriter, m *Message, structuredType string) error {
	body, contentType, err := encodeBody(m, structuredType)
	if err != nil {
		return err
	}

	writeHeaders(w.Header(), m)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}

// ReadResponse decodes a successful RPC response.
func ReadResponse(resp *http.Response) (*Message, error) {
	return decode(resp.Header, resp.Body)
}

// StructuredType picks the structured encoding matching the request: binary
// protobuf when the client sent or accepts it, JSON otherwise.
func StructuredType(r *http.Request) string {
	for _, h := range []string{r.Header.Get("Content-Type"), r.Header.Get("Accept")} {
		if mediaType(h) == ContentTypeProtobuf {
			return ContentTypeProtobuf
		}
	}
	return ContentTypeJSON
}

func writeHeaders(h http.Header, m *Message) {
	h.Set(HeaderMethod, string(m.Method))
	setIfNotEmpty(h, HeaderJobID, m.JobID)
	setIfNotEmpty(h, HeaderExecutorID, m.ExecutorID)
	setIfNotEmpty(h, HeaderChunkID, m.ChunkID)
	setIfNotEmpty(h, HeaderArchiveDigest, m.Digest)
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func encodeBody(m *Message, structuredType string) ([]byte, string, error) {
	if m.IsBinary() {
		return m.Bytes, ContentTypeBinary, nil
	}

	st, err := structpb.NewStruct(m.Body)
	if err != nil {
		return nil, "", &Error{Method: m.Method, Err: fmt.Errorf("failed to encode body: %w", err)}
	}

	var data []byte
	switch structuredType {
	case ContentTypeProtobuf:
		data, err = proto.Marshal(st)
	case ContentTypeJSON, "":
		structuredType = ContentTypeJSON
		data, err = protojson.Marshal(st)
	default:
		return nil, "", &Error{Method: m.Method, Err: fmt.Errorf("%w: %s", ErrUnsupportedContentType, structuredType)}
	}
	if err != nil {
		return nil, "", &Error{Method: m.Method, Err: fmt.Errorf("failed to encode body: %w", err)}
	}
	return data, structuredType, nil
}

func decode(h http.Header, body io.Reader) (*Message, error) {
	method := Method(h.Get(HeaderMethod))
	if method == "" {
		return nil, &Error{Err: ErrMissingMethod}
	}

	m := &Message{
		Method:     method,
		JobID:      h.Get(HeaderJobID),
		ExecutorID: h.Get(HeaderExecutorID),
		ChunkID:    h.Get(HeaderChunkID),
		Digest:     h.Get(HeaderArchiveDigest),
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &Error{Method: method, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	contentType := mediaType(h.Get("Content-Type"))
	if contentType == ContentTypeBinary {
		m.Bytes = data
		return m, nil
	}
	if len(data) == 0 {
		return m, nil
	}

	st := &structpb.Struct{}
	switch contentType {
	case ContentTypeJSON, "":
		err = protojson.Unmarshal(data, st)
	case ContentTypeProtobuf:
		err = proto.Unmarshal(data, st)
	default:
		return nil, &Error{Method: method, Err: fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)}
	}
	if err != nil {
		return nil, &Error{Method: method, Err: fmt.Errorf("failed to parse body: %w", err)}
	}
	m.Body = st.AsMap()
	return m, nil
}

func mediaType(value string) string {
	if value == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(value)
	if err != nil {
		return value
	}
	return mt
}
