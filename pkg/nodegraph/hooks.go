package nodegraph

import (
	"net/http"
	"time"
)

// Response describes a successful request. It is handed to Hooks.AfterSuccess
// before the decoded body is returned to the caller.
type Response struct {
	Host       string
	Method     string
	Path       string
	URL        string
	Params     Params
	RequestID  string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Fallback   bool
}

// Failure describes a request that failed terminally, after retries and
// fallbacks were exhausted.
type Failure struct {
	Host     string
	Op       Op
	Err      *Error
	Attempts int
	Duration time.Duration
}

// FallbackContext is passed to Hooks.OnFallback before a fallback host is tried.
type FallbackContext struct {
	FailedHost string
	Method     string
	Path       string
	Params     Params
	Err        error
}

// Hooks lets collaborators observe transport activity and inject headers.
// Embed NopHooks to implement only some of the methods.
type Hooks interface {
	AfterSuccess(resp *Response)
	AfterFailure(f *Failure)
	OnFallback(host string, fc FallbackContext)
	Headers() http.Header
}

// BulkObserver is an optional Hooks extension notified once per server per
// bulk flush with the number of batched requests.
type BulkObserver interface {
	ObserveBulkFlush(host string, size int)
}

// NopHooks implements Hooks with no-ops.
type NopHooks struct{}

func (NopHooks) AfterSuccess(*Response)             {}
func (NopHooks) AfterFailure(*Failure)              {}
func (NopHooks) OnFallback(string, FallbackContext) {}
func (NopHooks) Headers() http.Header               { return nil }

// ChainHooks fans every callback out to hooks in order. Headers are merged,
// later hooks adding values after earlier ones.
func ChainHooks(hooks ...Hooks) Hooks {
	return chain(hooks)
}

type chain []Hooks

func (c chain) AfterSuccess(resp *Response) {
	for _, h := range c {
		h.AfterSuccess(resp)
	}
}

func (c chain) AfterFailure(f *Failure) {
	for _, h := range c {
		h.AfterFailure(f)
	}
}

func (c chain) OnFallback(host string, fc FallbackContext) {
	for _, h := range c {
		h.OnFallback(host, fc)
	}
}

func (c chain) Headers() http.Header {
	out := make(http.Header)
	for _, h := range c {
		for k, values := range h.Headers() {
			for _, v := range values {
				out.Add(k, v)
			}
		}
	}
	return out
}

func (c chain) ObserveBulkFlush(host string, size int) {
	for _, h := range c {
		if o, ok := h.(BulkObserver); ok {
			o.ObserveBulkFlush(host, size)
		}
	}
}
