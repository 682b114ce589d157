// Package metrics exports graph client transport activity to Prometheus.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements nodegraph.Hooks and nodegraph.BulkObserver.
// Install it with nodegraph.WithHooks, alone or through nodegraph.ChainHooks.
type Collector struct {
	nodegraph.NopHooks

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	failuresTotal   *prometheus.CounterVec
	failureAttempts prometheus.Histogram
	fallbacksTotal  *prometheus.CounterVec
	bulkFlushes     *prometheus.CounterVec
	bulkSize        prometheus.Histogram
}

var _ nodegraph.Hooks = (*Collector)(nil)
var _ nodegraph.BulkObserver = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics on reg.
// namespace prefixes every metric name and defaults to "nodegraph".
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = "nodegraph"
	}

	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Successful graph requests by host, method and status code",
			},
			[]string{"host", "method", "status", "fallback"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of successful graph requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"host", "method"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Terminal request failures by host, operation and failure kind",
			},
			[]string{"host", "op", "kind"},
		),
		failureAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "failure_attempts",
				Help:      "Attempts made before a request failed terminally",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Reads retried on a fallback host, by failed and fallback host",
			},
			[]string{"failed_host", "host"},
		),
		bulkFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_flushes_total",
				Help:      "Bulk read requests sent, by host",
			},
			[]string{"host"},
		),
		bulkSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bulk_flush_size",
				Help:      "Reads batched into one bulk request",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.requestsTotal,
		c.requestDuration,
		c.failuresTotal,
		c.failureAttempts,
		c.fallbacksTotal,
		c.bulkFlushes,
		c.bulkSize,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) AfterSuccess(resp *nodegraph.Response) {
	c.requestsTotal.WithLabelValues(resp.Host, resp.Method, strconv.Itoa(resp.StatusCode), strconv.FormatBool(resp.Fallback)).Inc()
	c.requestDuration.WithLabelValues(resp.Host, resp.Method).Observe(resp.Duration.Seconds())
}

func (c *Collector) AfterFailure(f *nodegraph.Failure) {
	kind := "unknown"
	if f.Err != nil {
		kind = f.Err.Kind.String()
	}
	c.failuresTotal.WithLabelValues(f.Host, string(f.Op), kind).Inc()
	c.failureAttempts.Observe(float64(f.Attempts))
}

func (c *Collector) OnFallback(host string, fc nodegraph.FallbackContext) {
	c.fallbacksTotal.WithLabelValues(fc.FailedHost, host).Inc()
}

func (c *Collector) ObserveBulkFlush(host string, size int) {
	c.bulkFlushes.WithLabelValues(host).Inc()
	c.bulkSize.Observe(float64(size))
}
