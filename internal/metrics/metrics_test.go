package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/nodegraph/internal/graphtest"
	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, host string, c *Collector, opts ...nodegraph.Option) *nodegraph.Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	base := []nodegraph.Option{
		nodegraph.WithRouter(nodegraph.NewRouter(nodegraph.WithDefaultHost(host))),
		nodegraph.WithHooks(c),
		nodegraph.WithLogger(logger),
		nodegraph.WithRetry(nodegraph.RetryPolicy{Limit: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}
	return nodegraph.New(append(base, opts...)...)
}

func TestNewCollector(t *testing.T) {
	t.Run("registers every metric", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewCollector(reg, "")
		require.NoError(t, err)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewCollector(reg, "test")
		require.NoError(t, err)
		_, err = NewCollector(reg, "test")
		assert.Error(t, err)
	})
}

func TestCollector_Requests(t *testing.T) {
	backend := graphtest.New()
	backend.SetLayer("a-1", "x", 1, "one")
	backend.SetLayer("a-2", "x", 1, "two")
	_, host := graphtest.Start(t, backend)

	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "test")
	require.NoError(t, err)
	client := newClient(t, host, c)
	ctx := context.Background()

	_, err = client.ReadGraph(ctx, "/a-1/data/x", nil)
	require.NoError(t, err)
	_, err = client.BulkRead(ctx, nil, func(ctx context.Context) error {
		_, _ = client.ReadGraph(ctx, "/a-1/data/x", nil)
		_, err := client.ReadGraph(ctx, "/a-2/data/x", nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues(host, http.MethodGet, "200", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues(host, http.MethodPost, "200", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.bulkFlushes.WithLabelValues(host)))
	assert.Equal(t, 2, testutil.CollectAndCount(c.requestDuration))

	expected := `
# HELP test_bulk_flush_size Reads batched into one bulk request
# TYPE test_bulk_flush_size histogram
test_bulk_flush_size_bucket{le="1"} 0
test_bulk_flush_size_bucket{le="2"} 1
test_bulk_flush_size_bucket{le="4"} 1
test_bulk_flush_size_bucket{le="8"} 1
test_bulk_flush_size_bucket{le="16"} 1
test_bulk_flush_size_bucket{le="32"} 1
test_bulk_flush_size_bucket{le="64"} 1
test_bulk_flush_size_bucket{le="128"} 1
test_bulk_flush_size_bucket{le="256"} 1
test_bulk_flush_size_bucket{le="512"} 1
test_bulk_flush_size_bucket{le="+Inf"} 1
test_bulk_flush_size_sum 2
test_bulk_flush_size_count 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_bulk_flush_size"))
}

func TestCollector_FailuresAndFallbacks(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadHost := strings.TrimPrefix(dead.URL, "http://")
	dead.Close()

	good := graphtest.New()
	good.SetFixture("/x", 1)
	_, goodHost := graphtest.Start(t, good)

	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "test")
	require.NoError(t, err)
	client := newClient(t, deadHost, c, nodegraph.WithFallbacks(nodegraph.OpRead, goodHost))
	ctx := context.Background()

	_, err = client.ReadGraph(ctx, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.fallbacksTotal.WithLabelValues(deadHost, goodHost)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues(goodHost, http.MethodGet, "200", "true")))

	_, err = client.WriteGraph(ctx, "/x", 1, nil)
	assert.ErrorIs(t, err, nodegraph.ErrConnection)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.failuresTotal.WithLabelValues(deadHost, "write", "connection")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.failureAttempts))
}
