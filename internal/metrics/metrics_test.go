package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGathersAllRegisteredCollectors(t *testing.T) {
	families, err := Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"http_requests_total",
		"http_request_duration_seconds",
		"http_errors_total",
		"policy_violations_total",
		"agent_invocations_total",
		"schema_violations_total",
		"phase_duration_seconds",
		"dead_letter_queue_depth",
	} {
		assert.True(t, names[want], "expected %s to be registered", want)
	}
}

func TestHTTPRequestsTotalIncrementsPerLabelSet(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestsTotal.WithLabelValues("assoc.example", "GET", "200").Inc()
	HTTPRequestsTotal.WithLabelValues("assoc.example", "GET", "200").Inc()
	HTTPRequestsTotal.WithLabelValues("assoc.example", "GET", "500").Inc()

	var m dto.Metric
	require.NoError(t, HTTPRequestsTotal.WithLabelValues("assoc.example", "GET", "200").Write(&m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestDLQDepthGaugeSetAndRead(t *testing.T) {
	DLQDepth.Set(0)
	DLQDepth.Set(7)

	var m dto.Metric
	require.NoError(t, DLQDepth.Write(&m))
	assert.Equal(t, 7.0, m.GetGauge().GetValue())
}

func TestPhaseDurationObservesIntoBuckets(t *testing.T) {
	PhaseDuration.Reset()
	PhaseDuration.WithLabelValues("discovery").Observe(12.5)

	var m dto.Metric
	require.NoError(t, PhaseDuration.WithLabelValues("discovery").(prometheus.Histogram).Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}
