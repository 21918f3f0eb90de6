package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RiskRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_shield_risk_requests_total",
		Help: "Risk analysis requests, labelled by terminal state (responded, unauthorized, invalid, error, rate_limited).",
	}, []string{"outcome"})

	RiskFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchant_shield_risk_flagged_total",
		Help: "Scored requests whose fraud probability exceeded the decision threshold.",
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merchant_shield_inference_duration_ms",
		Help:    "Model inference latency in milliseconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	})

	InferenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchant_shield_inference_errors_total",
		Help: "Inference calls that failed or returned an out-of-range probability.",
	})

	AuditEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchant_shield_audit_enqueued_total",
		Help: "Audit records placed on the background write queue.",
	})

	AuditDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_shield_audit_dropped_total",
		Help: "Audit records dropped, by reason (queue_full, closed).",
	}, []string{"reason"})

	AuditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_shield_audit_writes_total",
		Help: "Audit store write attempts, labelled by backend and status.",
	}, []string{"backend", "status"})

	AuditQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merchant_shield_audit_queue_utilization_ratio",
		Help: "Current audit queue utilization (0–1).",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "merchant_shield_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, labelled by route and status code.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"route", "code"})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_shield_config_reloads_total",
		Help: "Configuration hot-reload attempts, labelled by status.",
	}, []string{"status"})
)
