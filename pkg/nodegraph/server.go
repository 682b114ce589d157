package nodegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BulkPath is the well-known endpoint accepting batched reads.
const BulkPath = "/bulk-read"

// BulkRequest is one entry of a bulk read. It marshals as the JSON pair
// [path, params].
type BulkRequest struct {
	Path   string
	Params Params
}

func (b BulkRequest) MarshalJSON() ([]byte, error) {
	params := b.Params
	if params == nil {
		params = Params{}
	}
	return json.Marshal([]any{b.Path, params})
}

func (b *BulkRequest) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) == 0 || len(pair) > 2 {
		return fmt.Errorf("bulk request must be [path, params], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &b.Path); err != nil {
		return fmt.Errorf("bulk request path: %w", err)
	}
	b.Params = Params{}
	if len(pair) == 2 {
		if err := json.Unmarshal(pair[1], &b.Params); err != nil {
			return fmt.Errorf("bulk request params: %w", err)
		}
		if b.Params == nil {
			b.Params = Params{}
		}
	}
	return nil
}

// Server talks to one physical backend host for one operation kind.
// Servers are created and cached by a Client; obtain them with Client.Server.
type Server struct {
	host   string
	op     Op
	client *Client
	log    *logrus.Entry
}

type call struct {
	method string
	path   string
	params Params
	data   any
	body   bool
}

// Host returns the backend host, e.g. "graph-1:9229".
func (s *Server) Host() string { return s.host }

// Op returns the operation kind this server was resolved for.
func (s *Server) Op() Op { return s.op }

// Read issues an idempotent GET. Connection and read failures are retried
// on the configured fallback hosts, in order.
func (s *Server) Read(ctx context.Context, path string, params Params) (any, error) {
	start := time.Now()
	value, attempts, err := s.readWithFallback(ctx, call{method: http.MethodGet, path: path, params: params})
	if err != nil {
		return nil, s.fail(err, attempts, start)
	}
	return value, nil
}

// Write issues a POST with data as the JSON body. Only connection failures
// are retried, up to the client's retry limit, with a random delay between
// attempts.
func (s *Server) Write(ctx context.Context, path string, data any, params Params) (any, error) {
	start := time.Now()
	c := call{method: http.MethodPost, path: path, params: params, data: data, body: true}
	retry := s.client.retry

	for attempt := 0; ; attempt++ {
		value, err := s.execute(ctx, c, false)
		if err == nil {
			return value, nil
		}
		if KindOf(err) != KindConnection || attempt >= retry.Limit {
			return nil, s.fail(err, attempt+1, start)
		}

		delay := s.client.retryDelay()
		s.log.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("write failed to connect, retrying")
		if err := sleep(ctx, delay); err != nil {
			return nil, s.fail(err, attempt+1, start)
		}
	}
}

// BulkRead posts requests to BulkPath and returns one result per request, in
// request order. params are sent as the query string and act as the default
// params for every entry. It fails over like Read.
func (s *Server) BulkRead(ctx context.Context, requests []BulkRequest, params Params) ([]any, error) {
	start := time.Now()
	c := call{method: http.MethodPost, path: BulkPath, params: params, data: requests, body: true}
	value, attempts, err := s.readWithFallback(ctx, c)
	if err != nil {
		return nil, s.fail(err, attempts, start)
	}

	if value == nil && len(requests) == 0 {
		return []any{}, nil
	}
	results, ok := value.([]any)
	if !ok || len(results) != len(requests) {
		err := &Error{
			Kind:    KindRead,
			Message: fmt.Sprintf("bulk read to %s returned %s for %d requests", s.host, describeBulk(value), len(requests)),
			Cause:   Cause{Method: c.method, Path: c.path, Params: params, Data: requests, Body: value},
		}
		return nil, s.fail(err, attempts, start)
	}
	return results, nil
}

func describeBulk(v any) string {
	if list, ok := v.([]any); ok {
		return fmt.Sprintf("%d results", len(list))
	}
	return fmt.Sprintf("%T", v)
}

func (s *Server) readWithFallback(ctx context.Context, c call) (any, int, error) {
	value, err := s.execute(ctx, c, false)
	attempts := 1
	if err == nil || !fallbackable(err) {
		return value, attempts, err
	}

	lastErr := err
	for _, host := range s.client.fallbackHosts(s.op, s.host) {
		s.client.hooks.OnFallback(host, FallbackContext{
			FailedHost: s.host,
			Method:     c.method,
			Path:       c.path,
			Params:     c.params,
			Err:        lastErr,
		})
		s.log.WithFields(logrus.Fields{
			"path":     c.path,
			"fallback": host,
			"error":    lastErr,
		}).Warn("read failed, falling back")

		attempts++
		value, err := s.client.server(s.op, host).execute(ctx, c, true)
		if err == nil {
			return value, attempts, nil
		}
		lastErr = err
		if !fallbackable(err) {
			break
		}
	}
	return nil, attempts, lastErr
}

func fallbackable(err error) bool {
	kind := KindOf(err)
	return kind == KindConnection || kind == KindRead
}

func (s *Server) fail(err error, attempts int, start time.Time) error {
	var gerr *Error
	if errors.As(err, &gerr) {
		s.client.hooks.AfterFailure(&Failure{
			Host:     s.host,
			Op:       s.op,
			Err:      gerr,
			Attempts: attempts,
			Duration: time.Since(start),
		})
	}
	s.log.WithFields(logrus.Fields{
		"attempts": attempts,
		"error":    err,
	}).Error("request failed")
	return err
}

// execute performs exactly one HTTP exchange.
func (s *Server) execute(ctx context.Context, c call, fallback bool) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fullURL := s.url(c.path, c.params)
	cause := Cause{Method: c.method, URL: fullURL, Path: c.path, Params: c.params, Data: c.data}

	var body io.Reader
	if c.body {
		payload, err := marshalJSON(c.data)
		if err != nil {
			return nil, fmt.Errorf("nodegraph: encode request body for %s: %w", c.path, err)
		}
		body = bytes.NewReader(payload)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.client.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, c.method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("nodegraph: build request for %s: %w", fullURL, err)
	}
	requestID := uuid.NewString()
	httpReq.Header = s.client.requestHeaders()
	httpReq.Header.Set("X-Request-Id", requestID)

	s.log.WithFields(logrus.Fields{
		"method":     c.method,
		"url":        fullURL,
		"request_id": requestID,
		"fallback":   fallback,
	}).Debug("graph request")

	start := time.Now()
	resp, err := s.client.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.transportError(classify(err), c, cause, err)
	}
	defer closeBody(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := KindRead
		if classify(err) == KindTimeout {
			kind = KindTimeout
		}
		return nil, s.transportError(kind, c, cause, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause.Body, _ = decodeBody(raw)
		if cause.Body == nil && len(raw) > 0 {
			cause.Body = string(raw)
		}
		return nil, &Error{
			Kind:       KindHTTP,
			Message:    fmt.Sprintf("%s to %s failed with HTTP %d", c.method, fullURL, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Cause:      cause,
		}
	}

	value, err := decodeBody(raw)
	if err != nil {
		cause.Body = string(raw)
		return nil, s.transportError(KindRead, c, cause, err)
	}

	s.client.hooks.AfterSuccess(&Response{
		Host:       s.host,
		Method:     c.method,
		Path:       c.path,
		URL:        fullURL,
		Params:     c.params,
		RequestID:  requestID,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       raw,
		Duration:   time.Since(start),
		Fallback:   fallback,
	})
	return value, nil
}

func (s *Server) transportError(kind Kind, c call, cause Cause, err error) *Error {
	var what string
	switch kind {
	case KindTimeout:
		what = "timeout"
	case KindRead:
		what = "read error"
	default:
		what = "connection failed"
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("%s on %s to %s", what, c.method, cause.URL),
		Cause:   cause,
		Err:     err,
	}
}

func (s *Server) url(path string, params Params) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base := s.host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u := strings.TrimRight(base, "/") + path
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

// classify maps a net/http error to a transport kind. Only failures to
// establish a connection are KindConnection; writes are retried on those alone.
func classify(err error) Kind {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnection
	}
	// Anything else may have happened after the request reached the server.
	return KindRead
}

// decodeBody parses a JSON response. Empty and "null" bodies decode to nil.
func decodeBody(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func marshalJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
