package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(nil)

	m.RecordSend("vonage", Outcome(true))
	m.RecordSend("vonage", Outcome(false))
	m.RecordVerify("twilio", OutcomeError)
	m.RecordSessionValidation(true)
	m.RecordProfileResolved("guest", true)
	m.ObserveProviderCall("twilio", "send", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPSendTotal.WithLabelValues("vonage", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPSendTotal.WithLabelValues("vonage", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OTPVerifyTotal.WithLabelValues("twilio", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionValidateTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProfileResolvedTotal.WithLabelValues("guest", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProviderCallDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSend("vonage", "success")
		m.RecordVerify("vonage", "success")
		m.RecordSessionValidation(false)
		m.RecordProfileResolved("admin", false)
		m.ObserveProviderCall("vonage", "verify", time.Now())
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(nil)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/health", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "portal_auth_http_requests_total"))
}
