// Package metrics declares the process-wide Prometheus collectors exposed
// at GET /metrics. Metrics live in their own package rather than next to
// the business logic that increments them, keeping a single
// capability-style accessor instead of threading a metrics handle through
// every constructor.
//
// Naming convention: namespace_subsystem_name
//   - namespace: lairchat (application-level grouping)
//   - subsystem: dispatcher, engine, framed, http, ratelimit, redis, circuit_breaker
//   - name: specific metric (sessions_active, events_dispatched_total, ...)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the current number of live sessions across all
	// adapters (Gauge - current state), labeled by protocol.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lairchat",
		Subsystem: "dispatcher",
		Name:      "sessions_active",
		Help:      "Current number of live sessions",
	}, []string{"protocol"})

	// OnlineUsers tracks the current number of distinct online users (Gauge).
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lairchat",
		Subsystem: "dispatcher",
		Name:      "online_users",
		Help:      "Current number of users with at least one live session",
	})

	// EventsDispatched tracks the total number of events fanned out to
	// sessions (CounterVec - cumulative), labeled by event kind.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "dispatcher",
		Name:      "events_dispatched_total",
		Help:      "Total events delivered to live sessions",
	}, []string{"kind"})

	// EventsDropped tracks lossy events dropped on a full session buffer.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "dispatcher",
		Name:      "events_dropped_total",
		Help:      "Total lossy events dropped on backpressure",
	}, []string{"kind"})

	// SessionsDegraded tracks sessions marked degraded by an authoritative
	// event overflow.
	SessionsDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "dispatcher",
		Name:      "sessions_degraded_total",
		Help:      "Total sessions marked degraded on authoritative event overflow",
	}, []string{"protocol"})

	// CommandDuration tracks the time spent executing an engine command
	// (HistogramVec - latency distribution), labeled by command name.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lairchat",
		Subsystem: "engine",
		Name:      "command_duration_seconds",
		Help:      "Time spent executing an engine command",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// CommandErrors tracks the total number of commands that returned a
	// business error, labeled by command and error code.
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "engine",
		Name:      "command_errors_total",
		Help:      "Total commands that returned a business error",
	}, []string{"command", "code"})

	// FramedConnections tracks the current number of open framed-adapter
	// connections (Gauge - current state).
	FramedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lairchat",
		Subsystem: "framed",
		Name:      "connections_active",
		Help:      "Current number of open framed binary connections",
	})

	// FramedFramesRejected tracks frames rejected for exceeding the max
	// payload size or failing AEAD authentication.
	FramedFramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "framed",
		Name:      "frames_rejected_total",
		Help:      "Total frames rejected (oversized or failed authentication)",
	}, []string{"reason"})

	// HTTPRequests tracks total HTTP requests processed by the REST
	// adapter, labeled by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"route", "status"})

	// CircuitBreakerState tracks the current state of a named circuit
	// breaker (GaugeVec). 0: Closed, 1: Open, 2: Half-Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lairchat",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by a circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded a rate-limit bucket.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"bucket"})

	// RateLimitRequests tracks requests checked against a rate-limit bucket.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"bucket"})

	// RedisOperationsTotal tracks total cross-instance bus operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lairchat",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis bus operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of bus operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lairchat",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis bus operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
