package nodegraph

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNotFlushed is returned by Pending.Value before its scope has flushed.
var ErrNotFlushed = errors.New("nodegraph: bulk read scope has not been flushed")

type bulkScopeKey struct{}

// BulkScope queues reads issued through a context until the scope flushes.
// A scope belongs to the context chain it was opened on; other contexts can
// open their own scopes concurrently.
type BulkScope struct {
	id       string
	defaults Params

	mu      sync.Mutex
	closed  bool
	order   []*Server
	queues  map[*Server][]queuedRead
	pending []*Pending
}

type queuedRead struct {
	seq int
	req BulkRequest
}

// Pending is the eventual result of a queued read.
type Pending struct {
	seq   int
	done  bool
	value any
	err   error
}

// Value returns the read's result once the scope has flushed.
func (p *Pending) Value() (any, error) {
	if !p.done {
		return nil, ErrNotFlushed
	}
	return p.value, p.err
}

func newBulkScope(defaults Params) *BulkScope {
	return &BulkScope{
		id:       uuid.NewString(),
		defaults: defaults.Clone(),
		queues:   make(map[*Server][]queuedRead),
	}
}

func bulkScopeFrom(ctx context.Context) *BulkScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(bulkScopeKey{}).(*BulkScope)
	return scope
}

// InBulkScope reports whether ctx carries an open bulk scope.
func InBulkScope(ctx context.Context) bool {
	return bulkScopeFrom(ctx) != nil
}

func (b *BulkScope) enqueue(s *Server, path string, params Params) (*Pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBulkScopeClosed
	}

	p := &Pending{seq: len(b.pending)}
	b.pending = append(b.pending, p)
	if _, ok := b.queues[s]; !ok {
		b.order = append(b.order, s)
	}
	b.queues[s] = append(b.queues[s], queuedRead{
		seq: p.seq,
		req: BulkRequest{Path: path, Params: params.Without(b.defaults)},
	})
	return p, nil
}

func (b *BulkScope) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Enqueue queues a read in the bulk scope carried by ctx and returns its
// pending result. Without a scope the read executes immediately and the
// returned Pending is already resolved.
func (c *Client) Enqueue(ctx context.Context, path string, params Params) (*Pending, error) {
	path = absolutePath(path)
	params = c.readParams(params)
	if scope := bulkScopeFrom(ctx); scope != nil {
		return scope.enqueue(c.Server(OpRead, path), path, params)
	}
	value, err := c.Server(OpRead, path).Read(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return &Pending{done: true, value: value}, nil
}

// BulkRead opens a bulk scope, runs body with a context carrying it, then
// sends one bulk request per distinct server, concurrently. The results of
// every read queued by body are returned in the order they were queued.
//
// defaults are sent once per bulk request; entries whose params equal the
// defaults are stripped before sending. Writes inside body fail with
// ErrWriteInBulkScope. Opening a scope on a context that already has one
// fails with ErrNestedBulkScope before anything is sent.
func (c *Client) BulkRead(ctx context.Context, defaults Params, body func(ctx context.Context) error) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if bulkScopeFrom(ctx) != nil {
		return nil, ErrNestedBulkScope
	}

	scope := newBulkScope(c.readParams(defaults))
	err := body(context.WithValue(ctx, bulkScopeKey{}, scope))
	scope.close()
	if err != nil {
		return nil, err
	}
	return c.flush(ctx, scope)
}

// flush sends every queue and waits for all of them. A failing server does
// not cancel its siblings; the first error is returned after all complete.
func (c *Client) flush(ctx context.Context, scope *BulkScope) ([]any, error) {
	results := make([]any, len(scope.pending))
	if len(scope.pending) == 0 {
		return results, nil
	}

	log := c.logger.WithFields(logrus.Fields{
		"component": "bulk",
		"scope":     scope.id,
	})
	log.WithFields(logrus.Fields{
		"servers":  len(scope.order),
		"requests": len(scope.pending),
	}).Debug("flushing bulk read scope")

	observer, _ := c.hooks.(BulkObserver)

	var g errgroup.Group
	for _, srv := range scope.order {
		srv := srv
		batch := scope.queues[srv]
		g.Go(func() error {
			requests := make([]BulkRequest, len(batch))
			for i, q := range batch {
				requests[i] = q.req
			}
			if observer != nil {
				observer.ObserveBulkFlush(srv.Host(), len(requests))
			}

			values, err := srv.BulkRead(ctx, requests, scope.defaults)
			for i, q := range batch {
				p := scope.pending[q.seq]
				p.done = true
				if err != nil {
					p.err = err
					continue
				}
				p.value = values[i]
				results[q.seq] = values[i]
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
