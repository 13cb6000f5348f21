// Package metrics exposes the gateway's optional Prometheus endpoint:
// request counts by target/decision/status and worker spawn counts,
// following the package-level gauge/counter-vec registration pattern
// used for cluster metrics elsewhere in the corpus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaygate_requests_total",
			Help: "Total number of /mcp requests by target, decision, and status",
		},
		[]string{"target", "decision", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaygate_request_duration_seconds",
			Help:    "Request handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	WorkerSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaygate_worker_spawns_total",
			Help: "Total number of worker processes spawned, by target",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(WorkerSpawnsTotal)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder implements api.Recorder, feeding the package-level
// collectors from the gateway's request path.
type Recorder struct{}

// ObserveRequest records one completed request.
func (Recorder) ObserveRequest(target, decision string, status int, took time.Duration) {
	RequestsTotal.WithLabelValues(target, decision, statusClass(status)).Inc()
	RequestDuration.WithLabelValues(target).Observe(took.Seconds())
}

// ObserveSpawn records one worker process spawn.
func (Recorder) ObserveSpawn(target string) {
	WorkerSpawnsTotal.WithLabelValues(target).Inc()
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
