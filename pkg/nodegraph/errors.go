package nodegraph

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindConnection means the host was unreachable, refused the connection or did not resolve.
	KindConnection Kind = iota + 1
	// KindTimeout means the per-request deadline elapsed.
	KindTimeout
	// KindRead means the response stream was broken, truncated or not valid JSON.
	KindRead
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRead:
		return "read"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Sentinels for matching transport failures with errors.Is.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrRead       = &Error{Kind: KindRead}
	ErrHTTP       = &Error{Kind: KindHTTP}
)

// Programmer-misuse errors. None of these are retried.
var (
	ErrNestedBulkScope    = errors.New("nodegraph: bulk read scope already open")
	ErrWriteInBulkScope   = errors.New("nodegraph: write not allowed inside a bulk read scope")
	ErrBulkScopeClosed    = errors.New("nodegraph: bulk read scope is closed")
	ErrInvalidRoute       = errors.New("nodegraph: invalid route")
	ErrNodeTypeMismatch   = errors.New("nodegraph: node type mismatch")
	ErrNotInCollection    = errors.New("nodegraph: node is not in collection")
	ErrExplicitCollection = errors.New("nodegraph: collection was built from explicit ids")
	ErrInvalidRevision    = errors.New("nodegraph: revision must be positive")
	ErrInvalidNodeNumber  = errors.New("nodegraph: node number must not be negative")
)

// Cause is the diagnostic payload attached to every transport error.
type Cause struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Path   string `json:"path"`
	Params Params `json:"params,omitempty"`
	Data   any    `json:"data,omitempty"`
	// Body is the parsed response body when one was received.
	Body any `json:"body,omitempty"`
}

// Error is returned by Server for every failed request.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      Cause
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Err != nil {
		return fmt.Sprintf("nodegraph: %s: %v", msg, e.Err)
	}
	return "nodegraph: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConnection)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the transport kind of err, or 0 when err is not a transport error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
