// Package metrics exports repository activity to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goforj/cachecompress"
	"github.com/goforj/cachecompress/cachecore"
)

const namespace = "cachecompress"

// Collector implements cachecompress.Observer and cachecompress.Listener.
type Collector struct {
	ops         *prometheus.CounterVec   // by op, driver and result (hit/miss/ok/error)
	opDuration  *prometheus.HistogramVec // by op and driver
	events      *prometheus.CounterVec   // by event kind and driver
	storedBytes *prometheus.HistogramVec // encoded size of written values, by driver
}

// New creates the collector and registers it with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Repository operations by outcome",
		}, []string{"op", "driver", "result"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Repository operation latency including encode and decode",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"op", "driver"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Cache hit, miss and write events",
		}, []string{"event", "driver"}),

		storedBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stored_value_bytes",
			Help:      "Size of values as written to the store",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"driver"}),
	}
	for _, col := range []prometheus.Collector{c.ops, c.opDuration, c.events, c.storedBytes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// OnCacheOp implements cachecompress.Observer.
func (c *Collector) OnCacheOp(_ context.Context, op string, _ string, hit bool, err error, dur time.Duration, driver cachecore.Driver) {
	if c == nil {
		return
	}
	c.ops.WithLabelValues(op, driver.String(), result(op, hit, err)).Inc()
	c.opDuration.WithLabelValues(op, driver.String()).Observe(dur.Seconds())
}

// OnCacheEvent implements cachecompress.Listener.
func (c *Collector) OnCacheEvent(_ context.Context, ev cachecompress.Event) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(string(ev.Kind), ev.Driver.String()).Inc()
	if ev.Kind == cachecompress.EventKeyWritten {
		c.storedBytes.WithLabelValues(ev.Driver.String()).Observe(float64(len(ev.Stored)))
	}
}

func result(op string, hit bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case op == "get" || op == "pull" || op == "has" || op == "many":
		if hit {
			return "hit"
		}
		return "miss"
	default:
		return "ok"
	}
}

var (
	_ cachecompress.Observer = (*Collector)(nil)
	_ cachecompress.Listener = (*Collector)(nil)
)
