package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus instruments. They register on the
// default registry, which the server exposes at /metrics.
type Metrics struct {
	Questions     *prometheus.CounterVec
	Iterations    prometheus.Histogram
	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	Confidence    prometheus.Histogram
	ActiveStreams prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// New returns the process-wide metrics set, registering on first use.
func New() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			Questions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "revlens_questions_total",
				Help: "Questions answered, by terminal status.",
			}, []string{"status"}),
			Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "revlens_iterations_per_question",
				Help:    "Orchestration loop iterations used per question.",
				Buckets: []float64{1, 2, 3, 4, 5},
			}),
			ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "revlens_tool_calls_total",
				Help: "Tool adapter invocations, by tool and outcome.",
			}, []string{"tool", "outcome"}),
			ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "revlens_tool_duration_seconds",
				Help:    "Tool adapter call latency.",
				Buckets: prometheus.DefBuckets,
			}, []string{"tool"}),
			CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "revlens_tool_cache_hits_total",
				Help: "Executor cache hits within sessions.",
			}),
			Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "revlens_answer_confidence",
				Help:    "Final answer confidence scores.",
				Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
			}),
			ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "revlens_active_streams",
				Help: "Streaming responses currently open.",
			}),
		}
		prometheus.MustRegister(
			metrics.Questions,
			metrics.Iterations,
			metrics.ToolCalls,
			metrics.ToolDuration,
			metrics.CacheHits,
			metrics.Confidence,
			metrics.ActiveStreams,
		)
	})
	return metrics
}

// ObserveToolCall records one adapter invocation.
func (m *Metrics) ObserveToolCall(tool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveQuestion records one completed run.
func (m *Metrics) ObserveQuestion(status string, iterations int, confidence float64) {
	if m == nil {
		return
	}
	m.Questions.WithLabelValues(status).Inc()
	m.Iterations.Observe(float64(iterations))
	m.Confidence.Observe(confidence)
}

// ObserveCacheHit records one executor cache hit.
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}
