package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts settled analyses by outcome
	// (success, transport_error, parse_error, read_error, cancelled).
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptforge",
		Subsystem: "analyzer",
		Name:      "analyses_total",
		Help:      "Total number of image analyses, labeled by outcome.",
	}, []string{"outcome"})

	// GatewayErrorsTotal counts failed Gemini calls by error kind.
	GatewayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promptforge",
		Subsystem: "gemini",
		Name:      "errors_total",
		Help:      "Total number of failed Gemini calls, labeled by error kind.",
	}, []string{"kind"})

	// GatewayLatencySeconds is the wall time of one GenerateContent call.
	GatewayLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "promptforge",
		Subsystem: "gemini",
		Name:      "request_duration_seconds",
		Help:      "Latency of Gemini GenerateContent calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	})

	// ActiveSessions is the number of sessions held by the session manager.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "promptforge",
		Subsystem: "server",
		Name:      "active_sessions",
		Help:      "Current number of upload sessions held in memory.",
	})

	// WebSocketClients is the number of connected state-stream clients.
	WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "promptforge",
		Subsystem: "server",
		Name:      "websocket_clients",
		Help:      "Current number of connected WebSocket clients.",
	})
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			GatewayErrorsTotal,
			GatewayLatencySeconds,
			ActiveSessions,
			WebSocketClients,
		)
	})
}
