package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Method names an RPC call between a worker and the coordinator.
type Method string

const (
	MethodDownload  Method = "download"
	MethodInit      Method = "init"
	MethodNext      Method = "next"
	MethodUpload    Method = "upload"
	MethodHeartbeat Method = "heartbeat"
	MethodError     Method = "error"
	MethodStop      Method = "stop"
)

// Header names carrying the envelope metadata.
const (
	HeaderMethod        = "X-Gojob-Method"
	HeaderJobID         = "X-Gojob-Job-Id"
	HeaderExecutorID    = "X-Gojob-Executor-Id"
	HeaderChunkID       = "X-Gojob-Chunk-Id"
	HeaderArchiveDigest = "X-Gojob-Archive-Digest"
)

// Structured body keys.
const (
	KeyStartupCommands  = "startupCommands"
	KeyShutdownCommands = "shutdownCommands"
	KeyEnvironment      = "environment"
	KeyExecutorDir      = "executorDir"
	KeyPreCommands      = "preCommands"
	KeyMainCommands     = "mainCommands"
	KeyPostCommands     = "postCommands"
	KeyLog              = "log"
)

// DefaultExecutorDir is the executor output directory used when init carries
// no hint. It is relative to the executor workspace.
const DefaultExecutorDir = "gojob-out"

// Message is the RPC envelope. A message carries either raw Bytes (archives)
// or a structured Body, never both.
type Message struct {
	Method     Method
	JobID      string
	ExecutorID string
	ChunkID    string
	Digest     string
	Bytes      []byte
	Body       map[string]any
}

func New(method Method) *Message {
	return &Message{Method: method}
}

// IsBinary reports whether the message carries raw bytes.
func (m *Message) IsBinary() bool {
	return m.Bytes != nil
}

// Put stores a body value. Values are normalized to the shapes a
// google.protobuf.Struct can hold.
func (m *Message) Put(key string, value any) *Message {
	if m.Body == nil {
		m.Body = make(map[string]any)
	}
	m.Body[key] = normalize(value)
	return m
}

func (m *Message) Get(key string) any {
	if m.Body == nil {
		return nil
	}
	return m.Body[key]
}

// GetString returns the body value for key if it is a string.
func (m *Message) GetString(key string) string {
	s, _ := m.Get(key).(string)
	return s
}

func (m *Message) PutCommands(key string, commands []Command) *Message {
	return m.Put(key, commands)
}

// Commands decodes a command list stored under key. A missing key yields nil.
func (m *Message) Commands(key string) ([]Command, error) {
	raw := m.Get(key)
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected list, got %T", key, raw)
	}

	commands := make([]Command, 0, len(items))
	for i, item := range items {
		cmd, err := commandFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func (m *Message) PutEnvironment(env map[string]string) *Message {
	return m.Put(KeyEnvironment, env)
}

// Environment returns the string-valued entries of the environment map.
func (m *Message) Environment() map[string]string {
	raw, _ := m.Get(KeyEnvironment).(map[string]any)
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
	return env
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] job=%s executor=%s chunk=%s", m.Method, m.JobID, m.ExecutorID, m.ChunkID)
	if m.IsBinary() {
		fmt.Fprintf(&b, " bytes=%d", len(m.Bytes))
	} else if len(m.Body) > 0 {
		keys := make([]string, 0, len(m.Body))
		for k := range m.Body {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " keys=%s", strings.Join(keys, ","))
	}
	return b.String()
}

func normalize(value any) any {
	switch v := value.(type) {
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	case Command:
		return v.value()
	case []Command:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = c.value()
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	default:
		return value
	}
}
