package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_uploads_total", Help: "Uploads by routing target and mode"}, []string{"target", "mode"})
	FallbacksTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_fallbacks_total", Help: "Remote attempts replaced by local processing"}, []string{"reason"})
	CapacityRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_capacity_rejects_total", Help: "Async submissions rejected under backpressure"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	RemoteInFlight   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "gateway_remote_inflight", Help: "Remote jobs currently outstanding"})
	ResultsConsumed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_results_consumed_total", Help: "Inbound result messages by outcome"}, []string{"outcome"})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_completed_total", Help: "Work items completed by the remote worker"})
	WorkerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_failed_total", Help: "Work items that failed and will retry"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_dead_letter_total", Help: "Work items moved to DLQ"})
	WorkQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "worker_queue_depth", Help: "Ready work depth across priorities"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadsTotal,
			FallbacksTotal,
			CapacityRejects,
			RateLimitRejects,
			RemoteInFlight,
			ResultsConsumed,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			WorkQueueDepth,
		)
	})
	return promhttp.Handler()
}
