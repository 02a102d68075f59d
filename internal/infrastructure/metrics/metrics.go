package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmeet_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topicmeet_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topicmeet_ws_active_connections",
			Help: "Number of open websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmeet_ws_events_total",
			Help: "Total number of websocket messages received, by type.",
		},
		[]string{"event"},
	)
	heartbeatWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmeet_heartbeat_writes_total",
			Help: "Presence heartbeat writes by scope kind and result.",
		},
		[]string{"scope", "result"},
	)
	activeHeartbeats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topicmeet_active_heartbeats",
			Help: "Number of running heartbeat tickers.",
		},
	)
	workflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmeet_workflow_operations_total",
			Help: "Friend and membership workflow operations by result.",
		},
		[]string{"operation", "result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "topicmeet_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		heartbeatWritesTotal,
		activeHeartbeats,
		workflowTotal,
		amqpPublishErrorsTotal,
	)
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncHeartbeat(scope string, ok bool) {
	heartbeatWritesTotal.WithLabelValues(scope, result(ok)).Inc()
}

func SetActiveHeartbeats(n int) {
	activeHeartbeats.Set(float64(n))
}

func IncWorkflow(operation string, err error) {
	workflowTotal.WithLabelValues(operation, result(err == nil)).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
