// Package graphtest provides an in-memory graph service speaking the same
// HTTP/JSON contract as the real backend. It records every request and can
// be told to fail specific paths.
package graphtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BulkPath is the endpoint accepting batched reads.
const BulkPath = "/bulk-read"

// Request is one recorded HTTP request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// BulkEntries decodes the body of a bulk request into [path, params] pairs.
func (r Request) BulkEntries() ([][]any, error) {
	var entries [][]any
	if err := json.Unmarshal(r.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode bulk body: %w", err)
	}
	return entries, nil
}

// Write is one recorded write.
type Write struct {
	Path   string
	Query  url.Values
	Data   any
	Header http.Header
}

// Failure describes how a matching request fails.
type Failure struct {
	// Status answers with this HTTP status and Body as JSON.
	Status int
	Body   any
	// Drop closes the connection without answering.
	Drop bool
	// Garbage answers 200 with a body that is not JSON.
	Garbage bool
	// Delay holds the response back, to trigger client timeouts.
	Delay time.Duration
	// Times limits how many requests fail; 0 means every request.
	Times int
}

type failureRule struct {
	Failure
	used int
}

type version struct {
	revision int64
	data     any
}

// Backend is the fake service. It implements http.Handler.
type Backend struct {
	mu       sync.Mutex
	nodes    map[string]map[string][]version
	fixtures map[string]any
	failures map[string]*failureRule
	requests []Request
	writes   []Write
	revision int64
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		nodes:    make(map[string]map[string][]version),
		fixtures: make(map[string]any),
		failures: make(map[string]*failureRule),
	}
}

// Start serves b on a fresh httptest server that is closed when the test ends.
// It returns the server's host:port.
func Start(tb interface {
	Helper()
	Cleanup(func())
}, b *Backend) (*httptest.Server, string) {
	tb.Helper()
	srv := httptest.NewServer(b)
	tb.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

// SetLayer records data as layer of node id at revision.
func (b *Backend) SetLayer(id, layer string, revision int64, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLayer(id, layer, revision, data)
}

func (b *Backend) setLayer(id, layer string, revision int64, data any) {
	if b.nodes[id] == nil {
		b.nodes[id] = make(map[string][]version)
	}
	versions := append(b.nodes[id][layer], version{revision: revision, data: data})
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].revision < versions[j].revision })
	b.nodes[id][layer] = versions
	if revision > b.revision {
		b.revision = revision
	}
}

// SetFixture makes GET path (and bulk entries for path) answer with body.
// Fixtures take precedence over node data.
func (b *Backend) SetFixture(path string, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fixtures[path] = body
}

// Fail makes requests to path fail as described until cleared.
func (b *Backend) Fail(path string, f Failure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = &failureRule{Failure: f}
}

// ClearFailures removes every failure rule.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string]*failureRule)
}

// Requests returns a copy of every request received so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// RequestsTo returns the recorded requests for path.
func (b *Backend) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range b.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Writes returns a copy of every write received so far.
func (b *Backend) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// Revision returns the highest revision known to the backend.
func (b *Backend) Revision() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

// ResetLog forgets recorded requests and writes.
func (b *Backend) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = nil
	b.writes = nil
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	b.mu.Lock()
	b.requests = append(b.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	failure := b.failureFor(r.URL.Path)
	b.mu.Unlock()

	if failure != nil {
		b.fail(w, r, *failure)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == BulkPath:
		b.serveBulk(w, r, body)
	case r.Method == http.MethodGet:
		value, status := b.read(r.URL.Path, queryParams(r.URL.Query()))
		writeJSON(w, status, value)
	case r.Method == http.MethodPost || r.Method == http.MethodPut:
		b.serveWrite(w, r, body)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (b *Backend) failureFor(path string) *Failure {
	rule, ok := b.failures[path]
	if !ok {
		return nil
	}
	if rule.Times > 0 && rule.used >= rule.Times {
		return nil
	}
	rule.used++
	f := rule.Failure
	return &f
}

func (b *Backend) fail(w http.ResponseWriter, r *http.Request, f Failure) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-r.Context().Done():
			return
		}
	}
	switch {
	case f.Drop:
		hj, ok := w.(http.Hijacker)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "cannot drop connection"})
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			logrus.WithField("component", "graphtest").WithError(err).Warn("hijack failed")
			return
		}
		_ = conn.Close()
	case f.Garbage:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{not json"))
	case f.Status != 0:
		writeJSON(w, f.Status, f.Body)
	}
}

func (b *Backend) serveBulk(w http.ResponseWriter, r *http.Request, body []byte) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bulk body must be an array"})
		return
	}
	defaults := queryParams(r.URL.Query())

	results := make([]any, len(entries))
	for i, raw := range entries {
		var pair []any
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("entry %d must be [path, params]", i)})
			return
		}
		path, _ := pair[0].(string)
		params := make(map[string]any, len(defaults))
		for k, v := range defaults {
			params[k] = v
		}
		if len(pair) > 1 {
			if m, ok := pair[1].(map[string]any); ok {
				for k, v := range m {
					params[k] = v
				}
			}
		}
		value, status := b.read(path, params)
		if status == http.StatusOK {
			results[i] = value
		}
	}
	writeJSON(w, http.StatusOK, results)
}

func (b *Backend) serveWrite(w http.ResponseWriter, r *http.Request, body []byte) {
	var data any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body is not JSON"})
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, Write{Path: r.URL.Path, Query: r.URL.Query(), Data: data, Header: r.Header.Clone()})

	// POST /{id}/data/{layer} stores a new revision of the layer.
	id, kind, layers, ok := splitNodePath(r.URL.Path)
	if ok && kind == "data" && len(layers) == 1 {
		rev := b.revision + 1
		b.setLayer(id, layers[0], rev, data)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "revision": rev})
		return
	}
	if fixture, ok := b.fixtures[r.URL.Path]; ok {
		writeJSON(w, http.StatusOK, fixture)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// read answers a GET of path, or one bulk entry.
func (b *Backend) read(path string, params map[string]any) (any, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fixture, ok := b.fixtures[path]; ok {
		return fixture, http.StatusOK
	}
	id, kind, layers, ok := splitNodePath(path)
	if !ok {
		return map[string]any{"error": "not found", "path": path}, http.StatusNotFound
	}
	node, ok := b.nodes[id]
	if !ok {
		return map[string]any{"error": "no such node", "id": id}, http.StatusNotFound
	}

	switch kind {
	case "data":
		out := map[string]any{"id": id}
		at, historical := revisionParam(params)
		var rev int64
		for _, layer := range layers {
			v, found := versionAt(node[layer], at, historical)
			if !found {
				continue
			}
			out[layer] = v.data
			if v.revision > rev {
				rev = v.revision
			}
		}
		if historical {
			rev = at
		}
		out["revision"] = rev
		return out, http.StatusOK
	case "revisions":
		out := map[string]any{"id": id}
		for _, layer := range layers {
			revs := make([]int64, 0, len(node[layer]))
			for _, v := range node[layer] {
				revs = append(revs, v.revision)
			}
			out[layer] = map[string]any{"revisions": revs}
		}
		return out, http.StatusOK
	default:
		return map[string]any{"error": "not found", "path": path}, http.StatusNotFound
	}
}

func versionAt(versions []version, at int64, historical bool) (version, bool) {
	if len(versions) == 0 {
		return version{}, false
	}
	if !historical {
		return versions[len(versions)-1], true
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].revision <= at {
			return versions[i], true
		}
	}
	return version{}, false
}

// splitNodePath parses /{id}/{kind}/{layer,layer}.
func splitNodePath(path string) (id, kind string, layers []string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", nil, false
	}
	return parts[0], parts[1], strings.Split(parts[2], ","), true
}

func revisionParam(params map[string]any) (int64, bool) {
	historical := false
	switch h := params["historical"].(type) {
	case bool:
		historical = h
	case string:
		historical = h == "true"
	}
	if !historical {
		return 0, false
	}
	switch r := params["revision"].(type) {
	case float64:
		return int64(r), true
	case int64:
		return r, true
	case int:
		return int64(r), true
	case string:
		n, err := strconv.ParseInt(r, 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func queryParams(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("component", "graphtest").WithError(err).Warn("encode response")
	}
}
