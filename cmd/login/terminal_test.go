package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"portal-auth/internal/apps/auth/session"
	otpmodels "portal-auth/internal/apps/otp/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer answers the OTP and profile endpoints with a fixed code and session
type fakeServer struct {
	mu    sync.Mutex
	sends int
}

func (f *fakeServer) handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/send-otp", func(c *gin.Context) {
		f.mu.Lock()
		f.sends++
		f.mu.Unlock()
		c.JSON(http.StatusOK, otpmodels.Succeeded("OTP sent successfully"))
	})
	r.POST("/api/verify-otp", func(c *gin.Context) {
		var req otpmodels.VerifyOTPRequest
		_ = c.ShouldBindJSON(&req)
		if req.Code != "123456" {
			c.JSON(http.StatusBadRequest, otpmodels.Failed("Invalid verification code"))
			return
		}
		c.JSON(http.StatusOK, otpmodels.GatewayResult{Success: true, Message: "OTP verification successful", SessionID: "sess-1"})
	})
	r.POST("/api/validate-session", func(c *gin.Context) {
		var req otpmodels.ValidateSessionRequest
		_ = c.ShouldBindJSON(&req)
		if req.SessionID == "sess-1" {
			c.JSON(http.StatusOK, otpmodels.ValidSession("+6512345678"))
			return
		}
		c.JSON(http.StatusOK, otpmodels.InvalidSession())
	})
	r.POST("/api/v1/users/resolve", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": "u-1", "phone": "+6512345678", "profile_type": "guest"}})
	})
	return r
}

func newOptions(t *testing.T, server string) *options {
	return &options{
		Server:    server,
		StateFile: filepath.Join(t.TempDir(), "state.json"),
		Provider:  string(otpmodels.ProviderTwilio),
		PatientID: "P-7",
	}
}

func TestRun_LoginThenResume(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	ctx := context.Background()
	opts := newOptions(t, srv.URL)
	kv, err := session.NewFileKV(opts.StateFile)
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("6512345678\ny\n000000\n:resend\n123456\n")
	require.NoError(t, run(ctx, opts, kv, in, &out, zap.NewNop()))

	text := out.String()
	assert.Contains(t, text, "[success] Verification code sent successfully!")
	assert.Contains(t, text, "[error] Invalid verification code")
	assert.Contains(t, text, "Resend available in")
	assert.Contains(t, text, "[success] Welcome! Redirecting to your report...")
	assert.Contains(t, text, "Redirect: /report-viewer?patientId=P-7")
	assert.Equal(t, 1, fake.sends)

	// a second run resumes from the stored session without asking for anything
	out.Reset()
	require.NoError(t, run(ctx, opts, kv, strings.NewReader(""), &out, zap.NewNop()))
	assert.Contains(t, out.String(), "Redirect: /report-viewer?patientId=P-7")
	assert.NotContains(t, out.String(), "Phone number")

	// logout, then the remembered phone is offered
	opts.Logout = true
	require.NoError(t, run(ctx, opts, kv, strings.NewReader(""), &out, zap.NewNop()))
	opts.Logout = false
	out.Reset()
	err = run(ctx, opts, kv, strings.NewReader(""), &out, zap.NewNop())
	assert.ErrorIs(t, err, errInputClosed)
	assert.Contains(t, out.String(), "Phone number [+******5678]: ")
}

func TestRun_CaptchaRequired(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler())
	defer srv.Close()

	opts := newOptions(t, srv.URL)
	kv, err := session.NewFileKV(opts.StateFile)
	require.NoError(t, err)

	var out bytes.Buffer
	err = run(context.Background(), opts, kv, strings.NewReader("6512345678\nn\n"), &out, zap.NewNop())
	assert.ErrorIs(t, err, errInputClosed)
	assert.Contains(t, out.String(), "[error] Please complete the captcha verification.")
}

func TestLoadOptions(t *testing.T) {
	opts, err := loadOptions([]string{"--provider", "Vonage", "--patient-id", "P-1"})
	require.NoError(t, err)
	assert.Equal(t, "vonage", opts.Provider)
	assert.Equal(t, "P-1", opts.PatientID)
	assert.Equal(t, "http://localhost:8080", opts.Server)

	t.Setenv("PORTAL_AUTH_SERVER", "http://auth.internal:9000")
	opts, err = loadOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://auth.internal:9000", opts.Server)

	_, err = loadOptions([]string{"--provider", "carrier-pigeon"})
	assert.Error(t, err)
}
