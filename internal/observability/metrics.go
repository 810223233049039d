// Package observability holds the Prometheus metrics and OpenTelemetry tracing setup.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rustsentry/internal/events"
)

const (
	metricsNamespace = "rustsentry"
	sessionSubsystem = "session"
	pipelineSubsys   = "pipeline"
	llmSubsystem     = "llm"
)

// Metrics implements events.Emitter so the pipeline can feed it alongside the log emitter.
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreated    prometheus.Counter
	SessionTransitions *prometheus.CounterVec
	StageAttempts      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	WorkersBusy        prometheus.Gauge
	TokensUsed         *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry, so tests can create as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "created_total",
			Help:      "Sessions accepted by the API.",
		}),
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "transitions_total",
			Help:      "Session state transitions by target status.",
		}, []string{"to"}),
		StageAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "stage_attempts_total",
			Help:      "Pipeline stage attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a single stage attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"stage"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "queue_depth",
			Help:      "Sessions waiting for a worker.",
		}),
		WorkersBusy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "workers_busy",
			Help:      "Workers currently processing a session.",
		}),
		TokensUsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: llmSubsystem,
			Name:      "tokens_total",
			Help:      "Tokens reported by the model provider, by stage, model and kind (prompt or completion).",
		}, []string{"stage", "model", "kind"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Emit(_ context.Context, evt events.Event) {
	switch evt.Name {
	case events.SessionTransition:
		m.SessionTransitions.WithLabelValues(evt.Status).Inc()
		if evt.Status == "pending" {
			m.SessionsCreated.Inc()
		}
		if evt.Status == "processing" {
			m.WorkersBusy.Inc()
		}
		if evt.Status == "completed" || evt.Status == "failed" {
			m.WorkersBusy.Dec()
		}
	case events.StageAttempt:
		m.StageAttempts.WithLabelValues(evt.Stage, evt.Outcome).Inc()
		if evt.Duration > 0 {
			m.StageDuration.WithLabelValues(evt.Stage).Observe(evt.Duration.Seconds())
		}
	case events.QueueDepth:
		m.QueueDepth.Set(float64(evt.Depth))
	case events.TokenUsage:
		m.TokensUsed.WithLabelValues(evt.Stage, evt.Model, "prompt").Add(float64(evt.PromptTokens))
		m.TokensUsed.WithLabelValues(evt.Stage, evt.Model, "completion").Add(float64(evt.CompletionTokens))
	}
}
