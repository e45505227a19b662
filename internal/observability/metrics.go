package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec
	chatMessagesSent   *prometheus.CounterVec
	chatsCreated       *prometheus.CounterVec
	chatConnections    prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lingua_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_http_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_chat_messages_sent_total",
			Help: "Total number of chat messages accepted, by message type.",
		}, []string{"type"})

		chatsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_chats_created_total",
			Help: "Total number of chats created, by chat type.",
		}, []string{"type"})

		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lingua_chat_connections",
			Help: "Number of websocket connections currently attached to the chat gateway.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			chatMessagesSent,
			chatsCreated,
			chatConnections,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChatMessagesSent exposes the counter for accepted chat messages.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// ChatsCreated exposes the counter for created chats.
func ChatsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return chatsCreated
}

// ChatConnections exposes the gauge of live gateway connections.
func ChatConnections() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}
