package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonancial_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resonancial_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	subscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonancial_subscriptions_total",
			Help: "Newsletter subscriptions by outcome (created, existing)",
		},
		[]string{"outcome"},
	)

	codesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonancial_discount_codes_issued_total",
			Help: "Discount codes issued by delivery channel",
		},
		[]string{"channel"},
	)

	codesRedeemedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonancial_discount_codes_redeemed_total",
			Help: "Discount codes successfully redeemed",
		},
	)

	validationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonancial_code_validation_failures_total",
			Help: "Code validation failures by reason",
		},
		[]string{"reason"},
	)

	deliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resonancial_delivery_attempts_total",
			Help: "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resonancial_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubscription records a subscription outcome ("created" or "existing")
func RecordSubscription(outcome string) {
	subscriptionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCodeIssued records a discount code issuance
func RecordCodeIssued(channel string) {
	codesIssuedTotal.WithLabelValues(channel).Inc()
}

// RecordCodeRedeemed records a successful redemption
func RecordCodeRedeemed() {
	codesRedeemedTotal.Inc()
}

// RecordValidationFailure records a failed code validation by reason
func RecordValidationFailure(reason string) {
	validationFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordDeliveryAttempt records a delivery outcome ("sent" or "failed")
func RecordDeliveryAttempt(channel, outcome string) {
	deliveryAttemptsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
