package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Delivery metrics
	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Notification deliveries per channel and result",
		},
		[]string{"channel", "result"},
	)

	remindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_total",
			Help: "Reminder scheduler decisions by outcome",
		},
		[]string{"outcome"},
	)

	reminderTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_tick_duration_seconds",
			Help:    "Duration of one reminder scheduler tick",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	webhookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_updates_total",
			Help: "Inbound chat-bot updates by kind",
		},
		[]string{"kind"},
	)

	phoneVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phone_verifications_total",
			Help: "Phone verification steps by outcome",
		},
		[]string{"outcome"},
	)

	relayForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_forwards_total",
			Help: "Updates forwarded by the relay, by HTTP status class",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so path
// parameters (including the webhook secret) never reach a label value.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// RecordDispatch records one channel delivery attempt.
func RecordDispatch(channel string, ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	notificationsDispatched.WithLabelValues(channel, result).Inc()
}

// RecordReminder records a scheduler decision such as "sent", "locked" or "not_due".
func RecordReminder(outcome string) {
	remindersTotal.WithLabelValues(outcome).Inc()
}

// RecordReminderTick records how long a scheduler tick took.
func RecordReminderTick(duration time.Duration) {
	reminderTickDuration.Observe(duration.Seconds())
}

// RecordWebhookUpdate records an inbound update by its parsed kind.
func RecordWebhookUpdate(kind string) {
	webhookUpdates.WithLabelValues(kind).Inc()
}

// RecordPhoneVerification records a phone verification step outcome.
func RecordPhoneVerification(outcome string) {
	phoneVerifications.WithLabelValues(outcome).Inc()
}

// RecordRelayForward records a forwarded update by status class ("2xx", "4xx", "error").
func RecordRelayForward(status string) {
	relayForwards.WithLabelValues(status).Inc()
}
