package nodegraph

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Op is the kind of graph operation a route applies to.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// DefaultHost is used when no route resolves a path.
const DefaultHost = "localhost:9229"

// Target is where a matching route sends a request. It is one of
// StaticHost, HostList or DynamicHost.
type Target interface {
	resolve(captures []string, pick func(n int) int) string
	validate() error
}

// StaticHost routes every match to a single host.
type StaticHost string

func (h StaticHost) resolve([]string, func(int) int) string { return string(h) }

func (h StaticHost) validate() error {
	if strings.TrimSpace(string(h)) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidRoute)
	}
	return nil
}

// HostList routes each match to a uniformly random replica.
type HostList []string

func (l HostList) resolve(_ []string, pick func(int) int) string {
	return l[pick(len(l))]
}

func (l HostList) validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: empty host list", ErrInvalidRoute)
	}
	for _, h := range l {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: empty host in host list", ErrInvalidRoute)
		}
	}
	return nil
}

// DynamicHost computes the host from the wildcard captures of the pattern.
// Returning "" lets later routes try to match.
type DynamicHost func(captures []string) string

func (f DynamicHost) resolve(captures []string, _ func(int) int) string { return f(captures) }

func (f DynamicHost) validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil dynamic route", ErrInvalidRoute)
	}
	return nil
}

type route struct {
	pattern *regexp.Regexp
	target  Target
}

// RouteTable holds one ordered rule list per operation kind.
type RouteTable struct {
	read  []route
	write []route
}

// NewRouteTable returns an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Register appends a rule. Without ops the rule is added to both the read
// and the write list. Pattern "*" segments match lazily; the whole pattern
// is anchored. An empty pattern matches every path.
func (t *RouteTable) Register(pattern string, target Target, ops ...Op) error {
	if target == nil {
		return fmt.Errorf("%w: nil target", ErrInvalidRoute)
	}
	if err := target.validate(); err != nil {
		return err
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return err
	}

	if len(ops) == 0 {
		ops = []Op{OpWrite, OpRead}
	}
	r := route{pattern: re, target: target}
	for _, op := range ops {
		switch op {
		case OpRead:
			t.read = append(t.read, r)
		case OpWrite:
			t.write = append(t.write, r)
		default:
			return fmt.Errorf("%w: unknown operation %q", ErrInvalidRoute, op)
		}
	}
	return nil
}

// Len reports the number of rules registered for op.
func (t *RouteTable) Len(op Op) int {
	return len(t.rules(op))
}

func (t *RouteTable) rules(op Op) []route {
	if op == OpWrite {
		return t.write
	}
	return t.read
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return regexp.MustCompile(`^.*$`), nil
	}
	pieces := strings.Split(pattern, "*")
	for i, p := range pieces {
		pieces[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(pieces, "(.*?)") + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidRoute, pattern, err)
	}
	return re, nil
}

// Router resolves (operation, path) pairs to hosts. Tables are configured
// once and read on every request, so access goes through an RWMutex.
type Router struct {
	mu          sync.RWMutex
	table       *RouteTable
	defaultHost string

	randMu sync.Mutex
	rand   *rand.Rand
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDefaultHost sets the host used when nothing matches.
func WithDefaultHost(host string) RouterOption {
	return func(r *Router) {
		if host != "" {
			r.defaultHost = host
		}
	}
}

// WithRandSource fixes the replica selection source, mostly for tests.
func WithRandSource(src rand.Source) RouterOption {
	return func(r *Router) {
		if src != nil {
			r.rand = rand.New(src)
		}
	}
}

// NewRouter returns a router with an empty table.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		table:       NewRouteTable(),
		defaultHost: DefaultHost,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a rule to the active table.
func (r *Router) Register(pattern string, target Target, ops ...Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Register(pattern, target, ops...)
}

// Resolve returns the host for op and path. Rules are scanned in
// registration order and the first one yielding a host wins; a dynamic rule
// that yields "" does not stop the scan.
func (r *Router) Resolve(op Op, path string) string {
	r.mu.RLock()
	rules := r.table.rules(op)
	r.mu.RUnlock()

	for _, rt := range rules {
		m := rt.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		if host := rt.target.resolve(m[1:], r.pick); host != "" {
			return host
		}
	}
	return r.defaultHost
}

// WithTable runs fn with override as the active table and restores the
// previous table afterwards, including when fn fails or panics.
func (r *Router) WithTable(override *RouteTable, fn func() error) error {
	if override == nil {
		override = NewRouteTable()
	}
	r.mu.Lock()
	previous := r.table
	r.table = override
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.table = previous
		r.mu.Unlock()
	}()
	return fn()
}

func (r *Router) pick(n int) int {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.Intn(n)
}
