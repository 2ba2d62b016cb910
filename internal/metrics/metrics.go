// Package metrics provides Prometheus instrumentation for the chat server. It
// exposes gauges for connections and online users, counters for presence
// broadcasts and message throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route outcome labels for MessagesRouted.
const (
	RouteDelivered = "delivered"
	RouteOffline   = "offline"
	RouteSelf      = "self"
	RouteFailed    = "failed"
)

// Send outcome labels for MessagesSent.
const (
	SendPersisted = "persisted"
	SendRejected  = "rejected"
	SendFailed    = "failed"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the size of the last broadcast online set.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of users with a registered live connection",
	})

	// PresenceBroadcasts counts online_users broadcasts.
	PresenceBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_presence_broadcasts_total",
		Help: "Total number of presence broadcasts",
	})

	// MessagesRouted counts real-time push attempts, labeled by result.
	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_routed_total",
		Help: "Total number of real-time message push attempts",
	}, []string{"result"}) // result = "delivered", "offline", "self", "failed"

	// MessagesSent counts send requests, labeled by result.
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of message send requests",
	}, []string{"result"}) // result = "persisted", "rejected", "failed"

	// SlowConsumers counts connections evicted because their outbound queue
	// filled up or a queued write failed.
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumer_evictions_total",
		Help: "Total number of connections evicted by the outbound writer",
	})

	// SendLatency records the time from send request to routed push.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_send_latency_seconds",
		Help:    "Message send latency in seconds, including persistence and routing",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		PresenceBroadcasts,
		MessagesRouted,
		MessagesSent,
		SendLatency,
		SlowConsumers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
