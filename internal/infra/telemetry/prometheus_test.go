package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayd/internal/domain"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.invokeDuration)
	assert.NotNil(t, m.sessionState)
	assert.NotNil(t, m.catalogSize)
	assert.NotNil(t, m.synthesisLatency)
	assert.NotNil(t, m.synthesisTokens)
	assert.NotNil(t, m.attempts)
	assert.NotNil(t, m.runs)
	assert.NotNil(t, m.runAttempts)
}

func TestPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveInvoke("n8n", "create_workflow", 10*time.Millisecond, nil)
	m.ObserveInvoke("n8n", "create_workflow", 20*time.Millisecond, assert.AnError)
	m.ObserveSessionState("n8n", domain.SessionReady)
	m.ObserveCatalogSize(12)
	m.ObserveSynthesisLatency("openai", "gpt-oss-120b", 500*time.Millisecond)
	m.ObserveSynthesisTokens("openai", "gpt-oss-120b", 128)
	m.ObserveAttempt(true)
	m.ObserveAttempt(false)
	m.ObserveRun(true, 2)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		names = append(names, metric.GetName())
	}

	assert.Contains(t, names, "relayd_invoke_duration_seconds")
	assert.Contains(t, names, "relayd_session_state")
	assert.Contains(t, names, "relayd_catalog_tools")
	assert.Contains(t, names, "relayd_synthesis_latency_seconds")
	assert.Contains(t, names, "relayd_synthesis_tokens_total")
	assert.Contains(t, names, "relayd_loop_attempts_total")
	assert.Contains(t, names, "relayd_loop_runs_total")
	assert.Contains(t, names, "relayd_loop_run_attempts")
}

func TestPrometheusMetrics_SessionStateIsExclusive(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPrometheusMetrics(registry)

	m.ObserveSessionState("n8n", domain.SessionReady)
	m.ObserveSessionState("n8n", domain.SessionFailed)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range metrics {
		if family.GetName() != "relayd_session_state" {
			continue
		}
		active := 0
		for _, metric := range family.GetMetric() {
			if metric.GetGauge().GetValue() == 1 {
				active++
				for _, label := range metric.GetLabel() {
					if label.GetName() == "state" {
						assert.Equal(t, string(domain.SessionFailed), label.GetValue())
					}
				}
			}
		}
		assert.Equal(t, 1, active)
	}
}

func TestPrometheusMetrics_ImplementsInterface(t *testing.T) {
	var _ domain.Metrics = (*PrometheusMetrics)(nil)
}
