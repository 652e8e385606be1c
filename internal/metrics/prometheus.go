package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using prometheus client metrics.
type PrometheusCollector struct {
	connectAttempts *prometheus.CounterVec
	connectDuration prometheus.Histogram
	reconnects      prometheus.Counter
	actionsSent     prometheus.Counter
	roundTrip       prometheus.Histogram
	snapshots       *prometheus.CounterVec
	evictions       prometheus.Counter
}

// NewPrometheusCollector creates a collector registered on the given
// registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablesync",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by outcome.",
		}, []string{"outcome"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tablesync",
			Name:      "connect_duration_seconds",
			Help:      "Time to establish a connection.",
			Buckets:   prometheus.DefBuckets,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablesync",
			Name:      "transport_reconnects_total",
			Help:      "Successful transport-level reconnections after a drop.",
		}),
		actionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablesync",
			Name:      "actions_sent_total",
			Help:      "Optimistic actions dispatched.",
		}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tablesync",
			Name:      "action_round_trip_seconds",
			Help:      "Elapsed time between action dispatch and server confirmation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablesync",
			Name:      "snapshots_applied_total",
			Help:      "Authoritative snapshots applied, by whether a blend was restarted.",
		}, []string{"blend_restarted"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablesync",
			Name:      "correlation_evictions_total",
			Help:      "Correlation entries evicted unconsumed.",
		}),
	}

	reg.MustRegister(
		c.connectAttempts,
		c.connectDuration,
		c.reconnects,
		c.actionsSent,
		c.roundTrip,
		c.snapshots,
		c.evictions,
	)
	return c
}

func (c *PrometheusCollector) RecordConnectAttempt(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.connectAttempts.WithLabelValues(outcome).Inc()
	if success {
		c.connectDuration.Observe(duration.Seconds())
	}
}

func (c *PrometheusCollector) RecordReconnect(attempt int) {
	c.reconnects.Inc()
}

func (c *PrometheusCollector) RecordActionSent() {
	c.actionsSent.Inc()
}

func (c *PrometheusCollector) RecordRoundTrip(duration time.Duration) {
	c.roundTrip.Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordSnapshotApplied(blendRestarted bool) {
	label := "false"
	if blendRestarted {
		label = "true"
	}
	c.snapshots.WithLabelValues(label).Inc()
}

func (c *PrometheusCollector) RecordCorrelationEvicted(count int) {
	c.evictions.Add(float64(count))
}
