package nodegraph

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds write retries on connection failures.
type RetryPolicy struct {
	// Limit is the number of retries after the first attempt.
	Limit    int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries a write up to five times, 50–250ms apart.
var DefaultRetryPolicy = RetryPolicy{
	Limit:    5,
	MinDelay: 50 * time.Millisecond,
	MaxDelay: 250 * time.Millisecond,
}

// DefaultTimeout is the per-request deadline.
const DefaultTimeout = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithRouter sets the router used to resolve hosts.
func WithRouter(r *Router) Option {
	return func(c *Client) {
		if r != nil {
			c.router = r
		}
	}
}

// WithHooks installs collaborator callbacks.
func WithHooks(h Hooks) Option {
	return func(c *Client) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithFallbacks sets the ordered fallback hosts tried when a read on op fails.
func WithFallbacks(op Op, hosts ...string) Option {
	return func(c *Client) {
		c.fallbacks[op] = append([]string(nil), hosts...)
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry overrides the write retry policy.
func WithRetry(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithHTTPClient overrides the HTTP client shared by every server.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders adds static headers sent with every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecords sets the source used for the active_record pseudo-layer.
func WithRecords(r RecordSource) Option {
	return func(c *Client) {
		c.records = r
	}
}

// WithParamModifiers installs functions applied to params before every read
// and every write. Either may be nil.
func WithParamModifiers(read, write func(Params) Params) Option {
	return func(c *Client) {
		c.modifyRead = read
		c.modifyWrite = write
	}
}

// Client is the runtime shared by every graph call: it owns the router, the
// per-(op, host) server registry, hooks and transport settings. Independent
// clients do not share state. A Client is safe for concurrent use.
type Client struct {
	router      *Router
	hooks       Hooks
	logger      *logrus.Logger
	httpClient  *http.Client
	timeout     time.Duration
	retry       RetryPolicy
	fallbacks   map[Op][]string
	headers     http.Header
	records     RecordSource
	modifyRead  func(Params) Params
	modifyWrite func(Params) Params

	mu      sync.Mutex
	servers map[serverKey]*Server

	randMu sync.Mutex
	rand   *rand.Rand
}

type serverKey struct {
	op   Op
	host string
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		router:     NewRouter(),
		hooks:      NopHooks{},
		logger:     defaultLogger(),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		retry:      DefaultRetryPolicy,
		fallbacks:  make(map[Op][]string),
		headers:    make(http.Header),
		servers:    make(map[serverKey]*Server),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retry.Limit < 0 {
		c.retry.Limit = 0
	}
	if c.retry.MinDelay < 0 {
		c.retry.MinDelay = 0
	}
	if c.retry.MaxDelay < c.retry.MinDelay {
		c.retry.MaxDelay = c.retry.MinDelay
	}
	return c
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Router returns the client's router.
func (c *Client) Router() *Router { return c.router }

// Records returns the configured record source, or nil.
func (c *Client) Records() RecordSource { return c.records }

// Logger returns the client's logger.
func (c *Client) Logger() *logrus.Logger { return c.logger }

// Server resolves path for op and returns the cached server for that host.
func (c *Client) Server(op Op, path string) *Server {
	return c.server(op, c.router.Resolve(op, path))
}

func (c *Client) server(op Op, host string) *Server {
	key := serverKey{op: op, host: host}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[key]; ok {
		return s
	}
	s := &Server{
		host:   host,
		op:     op,
		client: c,
		log: c.logger.WithFields(logrus.Fields{
			"component": "transport",
			"host":      host,
			"op":        string(op),
		}),
	}
	c.servers[key] = s
	return s
}

// ReadGraph reads path from whichever host the router assigns. Relative
// paths are made absolute. Inside a bulk scope the read is queued and
// (nil, nil) is returned; its result is part of the scope's results.
func (c *Client) ReadGraph(ctx context.Context, path string, params Params) (any, error) {
	path = absolutePath(path)
	params = c.readParams(params)
	if scope := bulkScopeFrom(ctx); scope != nil {
		_, err := scope.enqueue(c.Server(OpRead, path), path, params)
		return nil, err
	}
	return c.Server(OpRead, path).Read(ctx, path, params)
}

// WriteGraph posts data to path. It fails with ErrWriteInBulkScope when ctx
// carries an open bulk scope; nothing is sent in that case.
func (c *Client) WriteGraph(ctx context.Context, path string, data any, params Params) (any, error) {
	if bulkScopeFrom(ctx) != nil {
		return nil, ErrWriteInBulkScope
	}
	path = absolutePath(path)
	if c.modifyWrite != nil {
		params = c.modifyWrite(params)
	}
	return c.Server(OpWrite, path).Write(ctx, path, data, params)
}

func (c *Client) readParams(params Params) Params {
	if c.modifyRead != nil {
		return c.modifyRead(params)
	}
	return params
}

func (c *Client) fallbackHosts(op Op, failed string) []string {
	hosts := make([]string, 0, len(c.fallbacks[op]))
	for _, h := range c.fallbacks[op] {
		if h != failed {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func (c *Client) retryDelay() time.Duration {
	spread := c.retry.MaxDelay - c.retry.MinDelay
	if spread <= 0 {
		return c.retry.MinDelay
	}
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.retry.MinDelay + time.Duration(c.rand.Int63n(int64(spread)+1))
}

func (c *Client) requestHeaders() http.Header {
	h := make(http.Header, len(c.headers)+2)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	for k, values := range c.headers {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	for k, values := range c.hooks.Headers() {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	return h
}
