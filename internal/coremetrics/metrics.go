package coremetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "colink_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	KVMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colink_kv_mutations_total",
			Help: "Total number of key-value store mutations by operation",
		},
		[]string{"operation"},
	)

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colink_rpc_requests_total",
			Help: "Total number of RPC requests by method and status code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colink_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	InterCoreSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colink_inter_core_sync_total",
			Help: "Total number of inter-core task sync attempts by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	ReverseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colink_reverse_connections_active",
			Help: "Number of active reverse-connection streams, inbound or outbound",
		},
	)

	ProtocolOperatorsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colink_protocol_operators_running",
			Help: "Number of protocol operator instances currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		KVMutationsTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
		InterCoreSyncTotal,
		ReverseConnectionsActive,
		ProtocolOperatorsRunning,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later observation against a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}
