package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the monitoring service
type Metrics struct {
	BrokerMessages *prometheus.CounterVec   // labels: topic, status
	Samples        *prometheus.CounterVec   // labels: status
	Alerts         *prometheus.CounterVec   // labels: severity, detector_type
	StoreWrites    *prometheus.CounterVec   // labels: table, status
	QueryDuration  *prometheus.HistogramVec // labels: query
	LLMRequests    *prometheus.CounterVec   // labels: status
}
