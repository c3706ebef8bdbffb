package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "packets_sent_total",
			Help:      "Control packets written to the host.",
		},
		[]string{"type"},
	)
	lostPacketsReported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "lost_packets_reported_total",
			Help:      "Lost packets carried in loss stats reports.",
		},
	)
	resyncRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "resync_requests_total",
			Help:      "Resync requests sent to the host.",
		},
		[]string{"mode"},
	)
	resyncSpan = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "resync_span_frames",
			Help:      "Frames covered by each coalesced resync range.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	advisories = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "advisories_total",
			Help:      "Advisory messages delivered to the user.",
		},
		[]string{"kind"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "terminations_total",
			Help:      "Control sessions terminated, by reporting worker.",
		},
		[]string{"source"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamctl",
			Subsystem: "control",
			Name:      "handshake_duration_seconds",
			Help:      "Start-A/Start-B handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packetsSent, lostPacketsReported,
			resyncRequests, resyncSpan,
			advisories, terminations, handshakeDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacketSent(packetType string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(packetType).Inc()
}

func RecordLossReport(lost int32) {
	RegisterMetrics()
	if lost > 0 {
		lostPacketsReported.Add(float64(lost))
	}
}

func RecordResync(mode string, start, end int32) {
	RegisterMetrics()
	resyncRequests.WithLabelValues(mode).Inc()
	if span := int64(end) - int64(start) + 1; span > 0 {
		resyncSpan.Observe(float64(span))
	}
}

func RecordAdvisory(kind string) {
	RegisterMetrics()
	advisories.WithLabelValues(kind).Inc()
}

func RecordTermination(source string) {
	RegisterMetrics()
	terminations.WithLabelValues(source).Inc()
}

func RecordHandshake(duration time.Duration, success bool) {
	RegisterMetrics()
	handshakeDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}
