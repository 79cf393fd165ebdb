package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the auth service
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OTPSendTotal         *prometheus.CounterVec
	OTPVerifyTotal       *prometheus.CounterVec
	SessionValidateTotal *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProfileResolvedTotal *prometheus.CounterVec
}

// New creates and registers all collectors on registry.
// A nil registry gets a fresh one, which keeps tests isolated.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_auth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		OTPSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_otp_send_total",
				Help: "OTP send attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		OTPVerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_otp_verify_total",
				Help: "OTP verify attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SessionValidateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_session_validate_total",
				Help: "Session validations by result",
			},
			[]string{"valid"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_auth_provider_call_duration_seconds",
				Help:    "SMS provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		ProfileResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_auth_profile_resolved_total",
				Help: "Profile resolutions by profile type and whether the profile was created",
			},
			[]string{"profile_type", "created"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OTPSendTotal,
		m.OTPVerifyTotal,
		m.SessionValidateTotal,
		m.ProviderCallDuration,
		m.ProfileResolvedTotal,
	)
	return m
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OutcomeError labels calls that failed unexpectedly rather than being rejected
const OutcomeError = "error"

// Outcome maps a boolean result to the outcome label
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordSend counts one send attempt
func (m *Metrics) RecordSend(provider, outcome string) {
	if m == nil {
		return
	}
	m.OTPSendTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordVerify counts one verify attempt
func (m *Metrics) RecordVerify(provider, outcome string) {
	if m == nil {
		return
	}
	m.OTPVerifyTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordSessionValidation counts one session validation
func (m *Metrics) RecordSessionValidation(valid bool) {
	if m == nil {
		return
	}
	m.SessionValidateTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// ObserveProviderCall records how long a provider operation took
func (m *Metrics) ObserveProviderCall(provider, operation string, started time.Time) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

// RecordProfileResolved counts one profile resolution
func (m *Metrics) RecordProfileResolved(profileType string, created bool) {
	if m == nil {
		return
	}
	m.ProfileResolvedTotal.WithLabelValues(profileType, strconv.FormatBool(created)).Inc()
}

// Middleware records request count and latency per route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
