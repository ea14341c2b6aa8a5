// Package metrics implements the process-global counters and histograms
// named in the spec (C10), backed by github.com/prometheus/client_golang
// since the teacher itself carries no metrics library.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTPRequestsTotal counts every outbound HTTP call, labeled by host,
	// method, and outcome status text.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Outbound HTTP requests by host, method, and status.",
	}, []string{"host", "method", "status"})

	// HTTPRequestDuration is the per-call latency histogram.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Outbound HTTP request duration by host and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"host", "method"})

	// HTTPErrorsTotal counts classified HTTP-layer errors by host and kind.
	HTTPErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Outbound HTTP errors by host and kind.",
	}, []string{"host", "kind"})

	// PolicyViolationsTotal counts Policy Middleware (C3) rejections.
	PolicyViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_violations_total",
		Help: "Policy middleware violations by predicate.",
	}, []string{"predicate"})

	// AgentInvocationsTotal counts every agent execution by outcome.
	AgentInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_invocations_total",
		Help: "Agent invocations by agent type and outcome.",
	}, []string{"agent_type", "outcome"})

	// SchemaViolationsTotal counts Contract Validator (C2) rejections.
	SchemaViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_violations_total",
		Help: "Contract validator failures by schema id and mode.",
	}, []string{"schema_id", "mode"})

	// PhaseDuration is the per-phase wall-clock duration histogram.
	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phase_duration_seconds",
		Help:    "Pipeline phase duration.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"phase"})

	// DLQDepth is the dead-letter sink size gauge. Nothing in the pipeline
	// sets it, so it reports its zero value.
	DLQDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dead_letter_queue_depth",
		Help: "Current number of unretried dead-letter entries.",
	})
)

// Registry is the process-global Prometheus registry all metrics above
// are registered against.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPErrorsTotal,
		PolicyViolationsTotal,
		AgentInvocationsTotal,
		SchemaViolationsTotal,
		PhaseDuration,
		DLQDepth,
	)
}
