package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingMethod          = errors.New("missing method header")
	ErrUnknownMethod          = errors.New("unknown method")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// Error is a malformed or unexpected RPC. The coordinator answers it with
// 400 and keeps serving.
type Error struct {
	Method Method
	Err    error
}

func (e *Error) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error [%s]: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error for method from a formatted cause.
func Errorf(method Method, format string, args ...any) *Error {
	return &Error{Method: method, Err: fmt.Errorf(format, args...)}
}
