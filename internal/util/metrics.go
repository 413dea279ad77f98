package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions created",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of checkout initiations that failed",
	}, []string{"reason"})

	ReconcileAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_attempts_total",
		Help: "Total number of reconciliation attempts by outcome",
	}, []string{"outcome"})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders whose payment was confirmed",
	})

	OrdersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders whose payment terminally failed",
	})

	FulfillmentAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_applied_total",
		Help: "Total number of orders whose inventory decrement was applied",
	})

	FulfillmentDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_deferred_total",
		Help: "Total number of completed orders left for the sweep to fulfill",
	})

	OversellDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversell_detected_total",
		Help: "Total number of stock decrements that drove stock negative",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_sweep_runs_total",
		Help: "Total number of background sweep passes",
	}, []string{"sweep"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
