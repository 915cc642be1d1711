// Package telemetry provides observability primitives for the capture daemon.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	capture "github.com/eugener/capture/internal"
)

// Metrics holds all Prometheus collectors for the daemon.
type Metrics struct {
	ConnsAccepted   prometheus.Counter
	ConnsRejected   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	ShardQueueDepth *prometheus.GaugeVec
	CallbackRounds  *prometheus.CounterVec
	Requeues        *prometheus.CounterVec
	Discards        *prometheus.CounterVec
	FramesTotal     *prometheus.CounterVec
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	SessionDuration prometheus.Histogram
	RecorderDrops   prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "connections_accepted_total",
			Help:      "Total accepted TCP connections handed to a shard.",
		}),

		ConnsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "connections_rejected_total",
			Help:      "Total connections closed at accept time.",
		}, []string{"reason"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capture",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in worker rotation.",
		}),

		ShardQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "capture",
			Name:      "shard_queue_depth",
			Help:      "Advisory number of sockets queued per shard.",
		}, []string{"shard"}),

		CallbackRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "callback_rounds_total",
			Help:      "Total socket callback invocations.",
		}, []string{"shard"}),

		Requeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "requeues_total",
			Help:      "Total sockets put back in rotation after a round.",
		}, []string{"shard"}),

		Discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "discards_total",
			Help:      "Total sockets removed from rotation, by close reason.",
		}, []string{"reason"}),

		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "frames_total",
			Help:      "Total frames received, by protocol op.",
		}, []string{"op"}),

		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "bytes_in_total",
			Help:      "Total bytes read from sessions.",
		}),

		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "bytes_out_total",
			Help:      "Total bytes written to sessions.",
		}),

		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "capture",
			Name:                            "session_duration_seconds",
			Help:                            "Lifetime of closed sessions in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),

		RecorderDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "recorder_drops_total",
			Help:      "Session records dropped because the recorder queue was full.",
		}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture",
			Name:      "admin_requests_total",
			Help:      "Total admin HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "capture",
			Name:                            "admin_request_duration_seconds",
			Help:                            "Admin HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.ConnsAccepted,
		m.ConnsRejected,
		m.ActiveSessions,
		m.ShardQueueDepth,
		m.CallbackRounds,
		m.Requeues,
		m.Discards,
		m.FramesTotal,
		m.BytesIn,
		m.BytesOut,
		m.SessionDuration,
		m.RecorderDrops,
		m.RequestsTotal,
		m.RequestDuration,
	)

	// Pre-create reason series so dashboards see zeros instead of gaps.
	for _, r := range capture.CloseReasons {
		m.Discards.WithLabelValues(string(r))
	}

	return m
}
