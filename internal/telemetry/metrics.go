package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments for the retrieval loop.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Iterations  prometheus.Histogram
	ToolCalls   *prometheus.CounterVec
	Events      *prometheus.CounterVec
	RequestTime prometheus.Histogram
}

// NewMetrics registers the loop instruments on reg. Passing
// prometheus.DefaultRegisterer wires them into the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seekly",
			Name:      "chat_requests_total",
			Help:      "Chat requests by terminal outcome.",
		}, []string{"outcome"}),
		Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seekly",
			Name:      "chat_iterations",
			Help:      "Loop iterations used per request.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seekly",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and status.",
		}, []string{"tool", "status"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seekly",
			Name:      "stream_events_total",
			Help:      "SSE events emitted by type.",
		}, []string{"type"}),
		RequestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seekly",
			Name:      "chat_request_seconds",
			Help:      "Wall time per chat request.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	reg.MustRegister(m.Requests, m.Iterations, m.ToolCalls, m.Events, m.RequestTime)
	return m
}

// ObserveToolCall records one dispatched tool call.
func (m *Metrics) ObserveToolCall(tool string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

// ObserveEvent records one emitted stream event.
func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

// ObserveRequest records a finished request.
func (m *Metrics) ObserveRequest(outcome string, iterations int, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.Iterations.Observe(float64(iterations))
	m.RequestTime.Observe(seconds)
}
