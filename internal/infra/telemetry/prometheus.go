package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"relayd/internal/domain"
)

type PrometheusMetrics struct {
	invokeDuration   *prometheus.HistogramVec
	sessionState     *prometheus.GaugeVec
	catalogSize      prometheus.Gauge
	synthesisLatency *prometheus.HistogramVec
	synthesisTokens  *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runAttempts      prometheus.Histogram
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		invokeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayd_invoke_duration_seconds",
				Help:    "Duration of routed tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server", "tool", "status"},
		),
		sessionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayd_session_state",
				Help: "Current session state per server (1 for the active state)",
			},
			[]string{"server", "state"},
		),
		catalogSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayd_catalog_tools",
				Help: "Number of qualified tools in the merged catalog",
			},
		),
		synthesisLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayd_synthesis_latency_seconds",
				Help:    "Latency of synthesis LLM calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		synthesisTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_synthesis_tokens_total",
				Help: "Total number of tokens consumed by synthesis LLM calls",
			},
			[]string{"provider", "model"},
		),
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_loop_attempts_total",
				Help: "Total number of repair loop attempts by verdict",
			},
			[]string{"verdict"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayd_loop_runs_total",
				Help: "Total number of repair loop runs by outcome",
			},
			[]string{"outcome"},
		),
		runAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relayd_loop_run_attempts",
				Help:    "Attempts consumed per repair loop run",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveInvoke(serverID, tool string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.invokeDuration.WithLabelValues(serverID, tool, status).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSessionState(serverID string, state domain.SessionState) {
	states := []domain.SessionState{
		domain.SessionDisconnected,
		domain.SessionHandshaking,
		domain.SessionReady,
		domain.SessionInvoking,
		domain.SessionFailed,
		domain.SessionUnavailable,
	}
	for _, candidate := range states {
		value := 0.0
		if candidate == state {
			value = 1.0
		}
		p.sessionState.WithLabelValues(serverID, string(candidate)).Set(value)
	}
}

func (p *PrometheusMetrics) ObserveCatalogSize(count int) {
	p.catalogSize.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveSynthesisLatency(provider, model string, duration time.Duration) {
	p.synthesisLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSynthesisTokens(provider, model string, tokens int) {
	p.synthesisTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (p *PrometheusMetrics) ObserveAttempt(accepted bool) {
	p.attempts.WithLabelValues(verdictLabel(accepted)).Inc()
}

func (p *PrometheusMetrics) ObserveRun(accepted bool, attempts int) {
	p.runs.WithLabelValues(verdictLabel(accepted)).Inc()
	p.runAttempts.Observe(float64(attempts))
}

func verdictLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
