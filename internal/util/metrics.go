package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created at checkout",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed paid by webhook",
	})

	DuplicateWebhooksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhooks_duplicate_total",
		Help: "Total number of payment confirmations discarded as already applied",
	})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_rejected_total",
		Help: "Total number of payment webhooks rejected",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of fulfillment status transitions",
	}, []string{"status"})

	OrderPreconditionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_precondition_failures_total",
		Help: "Total number of rejected state machine operations",
	}, []string{"operation"})

	OTPVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verifications_total",
		Help: "Pickup OTP verifications by outcome",
	}, []string{"outcome"})

	OTPIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_issued_total",
		Help: "Pickup OTPs issued",
	}, []string{"reason"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Customer notifications by channel and outcome",
	}, []string{"channel", "outcome"})

	CommCostCentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comm_cost_cents_total",
		Help: "Communication cost in cents folded into orders",
	}, []string{"channel"})

	NotificationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_latency_seconds",
		Help:    "Latency of notification provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout session creation",
		Buckets: prometheus.DefBuckets,
	})

	ReportCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_requests_total",
		Help: "Report cache lookups by result",
	}, []string{"result"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})

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
