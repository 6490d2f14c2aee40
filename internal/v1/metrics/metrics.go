package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the messaging backbone.
//
// Naming convention: namespace_subsystem_name
// - namespace: veilchat (application-level grouping)
// - subsystem: websocket, message, retention, translation, ratelimit
//
// Metric Types:
// - Gauge: Current state (connections, subscribed rooms)
// - Counter: Cumulative events (messages created, upserts emitted)
// - Histogram: Latency distributions (create pipeline duration)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "veilchat",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// SubscribedRooms tracks the current number of rooms with at least one local subscriber
	SubscribedRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "veilchat",
		Subsystem: "websocket",
		Name:      "rooms_subscribed",
		Help:      "Current number of rooms with local subscribers",
	})

	// UpsertsEmitted counts canonical message:upsert emits by origin
	UpsertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "websocket",
		Name:      "upserts_emitted_total",
		Help:      "Total message:upsert events emitted",
	}, []string{"origin"})

	// MessagesCreated counts message creations by outcome
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "message",
		Name:      "created_total",
		Help:      "Total messages created",
	}, []string{"outcome"})

	// MessagePipelineDuration tracks create pipeline latency
	MessagePipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "veilchat",
		Subsystem: "message",
		Name:      "create_pipeline_seconds",
		Help:      "Time spent in the message create pipeline",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// MessagesExpired counts messages tombstoned by the expire worker
	MessagesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "retention",
		Name:      "messages_expired_total",
		Help:      "Total messages tombstoned by the expire worker",
	})

	// MessagesPruned counts messages removed by the plan retention prune
	MessagesPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "retention",
		Name:      "messages_pruned_total",
		Help:      "Total messages removed by plan retention pruning",
	}, []string{"plan"})

	// TranslationCache counts translation cache lookups by tier and result
	TranslationCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "translation",
		Name:      "cache_lookups_total",
		Help:      "Translation cache lookups",
	}, []string{"tier", "result"})

	// TranslationRequests counts calls to the external translation provider
	TranslationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "translation",
		Name:      "provider_requests_total",
		Help:      "Requests to the external translation provider",
	}, []string{"status"})

	// RateLimitExceeded counts rejected requests by endpoint and limit type
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by rate limiting",
	}, []string{"endpoint", "limit_type"})

	// RateLimitRequests counts requests that passed rate limiting
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests checked by rate limiting",
	}, []string{"endpoint"})

	// CircuitBreakerState tracks breaker state per dependency (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "veilchat",
		Subsystem: "dependency",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per external dependency",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts calls dropped by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "dependency",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected by an open circuit breaker",
	}, []string{"dependency"})

	// UploadsAccepted counts accepted uploads by driver
	UploadsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilchat",
		Subsystem: "uploads",
		Name:      "accepted_total",
		Help:      "Uploads accepted",
	}, []string{"driver"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
