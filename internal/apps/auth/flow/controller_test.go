package flow

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	authmodels "portal-auth/internal/apps/auth/models"
	"portal-auth/internal/apps/auth/session"
	otpmodels "portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/provider"
	usermodels "portal-auth/internal/apps/user/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+6512345678"

var testNow = time.UnixMilli(1700000000000)

type fakeGateway struct {
	mu         sync.Mutex
	sendRes    *otpmodels.GatewayResult
	sendErr    error
	verifyRes  *otpmodels.GatewayResult
	verifyErr  error
	validation *otpmodels.SessionValidation
	block      chan struct{}

	sends     []string
	verifies  []string
	validated []string
}

func (g *fakeGateway) SendOTP(_ context.Context, phone string, p otpmodels.ProviderName) (*otpmodels.GatewayResult, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, phone+"|"+string(p))
	return g.sendRes, g.sendErr
}

func (g *fakeGateway) VerifyOTP(_ context.Context, phone, code string, _ otpmodels.ProviderName) (*otpmodels.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies = append(g.verifies, phone+"|"+code)
	return g.verifyRes, g.verifyErr
}

func (g *fakeGateway) ValidateSession(_ context.Context, id string) (*otpmodels.SessionValidation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validated = append(g.validated, id)
	if g.validation == nil {
		return otpmodels.InvalidSession(), nil
	}
	return g.validation, nil
}

type fakeProfiles struct {
	profile usermodels.ProfileType
	err     error
	calls   []string
}

func (p *fakeProfiles) ResolveProfile(_ context.Context, phone, sessionID string) (*authmodels.User, error) {
	p.calls = append(p.calls, phone+"|"+sessionID)
	if p.err != nil {
		return nil, p.err
	}
	profile := p.profile
	if profile == "" {
		profile = usermodels.ProfileGuest
	}
	return &authmodels.User{ID: "u-1", Phone: phone, ProfileType: profile}, nil
}

type recorder struct {
	mu    sync.Mutex
	notes []string
}

func (r *recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, string(level)+": "+message)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notes...)
}

type harness struct {
	c        *Controller
	gateway  *fakeGateway
	profiles *fakeProfiles
	store    *session.Store
	notes    *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	kv, err := session.NewFileKV(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, err)

	h := &harness{
		gateway: &fakeGateway{
			sendRes:   otpmodels.Succeeded(provider.MsgSent),
			verifyRes: &otpmodels.GatewayResult{Success: true, Message: provider.MsgVerified, SessionID: "jwt-session"},
		},
		profiles: &fakeProfiles{},
		store:    session.NewStore(kv),
		notes:    &recorder{},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	h.c = New(h.gateway, h.profiles, h.store, h.notes, opts)
	t.Cleanup(h.c.Close)
	return h
}

func TestLogin_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.profiles.profile = usermodels.ProfilePatient

	require.NoError(t, h.c.Enter(ctx))
	assert.Equal(t, PhoneEntry, h.c.State().Phase)

	h.c.SetPhone("6512345678")
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))

	st := h.c.State()
	assert.Equal(t, OtpSent, st.Phase)
	assert.Equal(t, ResendCooldown, st.Countdown)
	assert.Empty(t, st.Error)
	assert.Equal(t, []string{testPhone + "|twilio"}, h.gateway.sends)

	remembered, err := h.store.RememberedPhone(ctx)
	require.NoError(t, err)
	assert.Equal(t, testPhone, remembered)

	h.c.SetCode(" 123456 ")
	require.NoError(t, h.c.SubmitCode(ctx))

	st = h.c.State()
	assert.Equal(t, Redirected, st.Phase)
	assert.Equal(t, "/dashboard", st.Redirect)
	require.NotNil(t, st.User)
	assert.Equal(t, usermodels.ProfilePatient, st.User.ProfileType)
	assert.Equal(t, []string{testPhone + "|123456"}, h.gateway.verifies)
	assert.Equal(t, []string{testPhone + "|jwt-session"}, h.profiles.calls)

	sess, ok := h.store.Current(ctx, testNow)
	require.True(t, ok)
	assert.Equal(t, "jwt-session", sess.ID)
	assert.Equal(t, testNow.Add(24*time.Hour), sess.ExpiresAt)

	assert.Equal(t, []string{
		"success: " + MsgCodeSent,
		"success: " + MsgVerified,
		"success: Welcome patient! Redirecting to dashboard...",
	}, h.notes.all())
}

func TestSubmitPhone_Validation(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, Options{})
	require.NoError(t, h.c.SubmitPhone(ctx))
	assert.Equal(t, MsgPhoneRequired, h.c.State().Error)

	h.c.SetPhone(testPhone)
	require.NoError(t, h.c.SubmitPhone(ctx))
	assert.Equal(t, MsgCaptchaRequired, h.c.State().Error)

	assert.Empty(t, h.gateway.sends)
	assert.Equal(t, PhoneEntry, h.c.State().Phase)
	assert.Equal(t, []string{"error: " + MsgPhoneRequired, "error: " + MsgCaptchaRequired}, h.notes.all())
}

func TestSubmitPhone_Failures(t *testing.T) {
	tests := []struct {
		name string
		res  *otpmodels.GatewayResult
		err  error
		want string
	}{
		{"server message verbatim", otpmodels.Failed("Invalid phone number"), nil, "Invalid phone number"},
		{"empty message", otpmodels.Failed(""), nil, MsgSendFailed},
		{"transport error", nil, assert.AnError, MsgSendFailed},
		{"nil result", nil, nil, MsgSendFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.gateway.sendRes, h.gateway.sendErr = tt.res, tt.err
			h.c.SetPhone(testPhone)
			h.c.PassCaptcha(true)

			require.NoError(t, h.c.SubmitPhone(context.Background()))
			st := h.c.State()
			assert.Equal(t, PhoneEntry, st.Phase)
			assert.Equal(t, tt.want, st.Error)
			assert.False(t, st.Loading)
			assert.Zero(t, st.Countdown)
		})
	}
}

func TestSubmitCode_Failures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))

	require.NoError(t, h.c.SubmitCode(ctx))
	assert.Equal(t, MsgCodeRequired, h.c.State().Error)

	h.gateway.verifyRes = otpmodels.Failed(provider.MsgInvalidCode)
	h.c.SetCode("000000")
	require.NoError(t, h.c.SubmitCode(ctx))
	st := h.c.State()
	assert.Equal(t, OtpSent, st.Phase)
	assert.Equal(t, provider.MsgInvalidCode, st.Error)

	h.gateway.verifyRes, h.gateway.verifyErr = nil, assert.AnError
	require.NoError(t, h.c.SubmitCode(ctx))
	assert.Equal(t, MsgVerifyFailed, h.c.State().Error)

	_, ok := h.store.Current(ctx, testNow)
	assert.False(t, ok, "no session persisted on failure")
	assert.Empty(t, h.profiles.calls)
}

func TestSubmitCode_ProfileFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.profiles.err = assert.AnError
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))
	h.c.SetCode("123456")

	require.NoError(t, h.c.SubmitCode(ctx))
	st := h.c.State()
	assert.Equal(t, OtpSent, st.Phase)
	assert.Equal(t, MsgProfileFailed, st.Error)

	sess, ok := h.store.Current(ctx, testNow)
	require.True(t, ok)
	assert.Equal(t, "jwt-session", sess.ID)
}

func TestSubmitCode_SynthesizesMissingSessionID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{Provider: otpmodels.ProviderVonage})
	h.gateway.verifyRes = otpmodels.Succeeded(provider.MsgVerified)
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))
	h.c.SetCode("123456")
	require.NoError(t, h.c.SubmitCode(ctx))

	sess, ok := h.store.Current(ctx, testNow)
	require.True(t, ok)
	assert.Equal(t, "vonage_1700000000000_6512345678", sess.ID)
}

func TestResend_SuppressedDuringCountdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))
	h.c.SetCode("999999")

	assert.ErrorIs(t, h.c.Resend(ctx), ErrResendSuppressed)
	assert.Len(t, h.gateway.sends, 1)
	assert.Equal(t, "999999", h.c.State().Code)

	for i := 0; i < ResendCooldown+5; i++ {
		h.c.Tick()
	}
	assert.Zero(t, h.c.State().Countdown, "countdown floors at zero")

	require.NoError(t, h.c.Resend(ctx))
	st := h.c.State()
	assert.Len(t, h.gateway.sends, 2)
	assert.Empty(t, st.Code)
	assert.Equal(t, ResendCooldown, st.Countdown)
}

func TestRunCountdown(t *testing.T) {
	h := newHarness(t, Options{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(context.Background()))

	done := make(chan struct{})
	go func() {
		h.c.RunCountdown(context.Background(), time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown did not finish")
	}
	assert.Zero(t, h.c.State().Countdown)
}

func TestRunCountdown_StopsOnClose(t *testing.T) {
	h := newHarness(t, Options{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(context.Background()))

	done := make(chan struct{})
	go func() {
		h.c.RunCountdown(context.Background(), time.Hour)
		close(done)
	}()
	h.c.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown kept running after Close")
	}
}

func TestBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)
	require.NoError(t, h.c.SubmitPhone(ctx))
	h.c.SetCode("123")

	h.c.Back()
	st := h.c.State()
	assert.Equal(t, PhoneEntry, st.Phase)
	assert.Empty(t, st.Code)
	assert.Equal(t, testPhone, st.Phone)
}

func TestEnter_RestoresSession(t *testing.T) {
	ctx := context.Background()

	t.Run("signed session revalidated", func(t *testing.T) {
		h := newHarness(t, Options{TargetPatientID: "P 42"})
		_, err := h.store.Save(ctx, "jwt-session", testNow.Add(-time.Hour))
		require.NoError(t, err)
		h.gateway.validation = otpmodels.ValidSession(testPhone)

		require.NoError(t, h.c.Enter(ctx))
		st := h.c.State()
		assert.Equal(t, Redirected, st.Phase)
		assert.Equal(t, "/report-viewer?patientId=P+42", st.Redirect)
		assert.Equal(t, []string{"jwt-session"}, h.gateway.validated)
		assert.Empty(t, h.gateway.sends)
		assert.Equal(t, []string{"success: Welcome! Redirecting to your report..."}, h.notes.all())
	})

	t.Run("rejected session cleared", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.store.Save(ctx, "forged", testNow)
		require.NoError(t, err)

		require.NoError(t, h.c.Enter(ctx))
		assert.Equal(t, PhoneEntry, h.c.State().Phase)
		_, err = h.store.Load(ctx)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("synthesized session checked locally", func(t *testing.T) {
		h := newHarness(t, Options{})
		id := session.SynthesizeSessionID(otpmodels.ProviderVonage, testPhone, testNow)
		_, err := h.store.Save(ctx, id, testNow)
		require.NoError(t, err)

		require.NoError(t, h.c.Enter(ctx))
		assert.Equal(t, Redirected, h.c.State().Phase)
		assert.Empty(t, h.gateway.validated)
		assert.Equal(t, []string{testPhone + "|" + id}, h.profiles.calls)
	})

	t.Run("expired session ignored", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.store.Save(ctx, "jwt-session", testNow.Add(-25*time.Hour))
		require.NoError(t, err)
		require.NoError(t, h.store.RememberPhone(ctx, testPhone))

		require.NoError(t, h.c.Enter(ctx))
		st := h.c.State()
		assert.Equal(t, PhoneEntry, st.Phase)
		assert.Equal(t, testPhone, st.Phone)
		assert.Empty(t, h.gateway.validated)
	})
}

func TestClose_DiscardsLateResponses(t *testing.T) {
	h := newHarness(t, Options{})
	h.gateway.block = make(chan struct{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)

	errc := make(chan error, 1)
	go func() { errc <- h.c.SubmitPhone(context.Background()) }()

	require.Eventually(t, func() bool { return h.c.State().Loading }, 5*time.Second, time.Millisecond)
	h.c.Close()
	close(h.gateway.block)

	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, PhoneEntry, h.c.State().Phase)
	assert.Empty(t, h.notes.all())
	assert.ErrorIs(t, h.c.SubmitPhone(context.Background()), ErrClosed)
}

func TestSubmitPhone_BusyWhileInFlight(t *testing.T) {
	h := newHarness(t, Options{})
	h.gateway.block = make(chan struct{})
	h.c.SetPhone(testPhone)
	h.c.PassCaptcha(true)

	errc := make(chan error, 1)
	go func() { errc <- h.c.SubmitPhone(context.Background()) }()
	require.Eventually(t, func() bool { return h.c.State().Loading }, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, h.c.SubmitPhone(context.Background()), ErrBusy)
	close(h.gateway.block)
	assert.NoError(t, <-errc)
	assert.Equal(t, OtpSent, h.c.State().Phase)
}

func TestSetDeveloperMode_UnavailableWithoutTag(t *testing.T) {
	if DevModeAvailable {
		t.Skip("built with devmode")
	}
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.c.SetDeveloperMode(true), ErrDevModeUnavailable)
	assert.False(t, h.c.State().DeveloperMode)
	assert.NoError(t, h.c.SetDeveloperMode(false))
}

func TestDeveloperMode_Bypass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.c.devModeAllowed = true
	h.gateway.sendRes = otpmodels.Succeeded(provider.DevelopmentMessage("482913"))

	require.NoError(t, h.c.SetDeveloperMode(true))
	h.c.SetPhone(testPhone)
	require.NoError(t, h.c.SubmitPhone(ctx), "captcha skipped")
	assert.Equal(t, OtpSent, h.c.State().Phase)

	h.c.SetCode("anything")
	require.NoError(t, h.c.SubmitCode(ctx))

	st := h.c.State()
	assert.Equal(t, Redirected, st.Phase)
	require.NotNil(t, st.User)
	assert.True(t, strings.HasPrefix(st.User.ID, "dev-user-id-"))
	assert.Equal(t, usermodels.ProfilePatient, st.User.ProfileType)
	assert.Equal(t, testPhone, st.User.Phone)
	assert.Empty(t, h.gateway.verifies)
	assert.Empty(t, h.profiles.calls)

	assert.Equal(t, []string{
		"info: " + MsgDevModeOn,
		"success: " + MsgCodeSent,
		"info: Dev mode: OTP is 482913",
		"success: " + MsgDevVerified,
		"success: Welcome patient! Redirecting to dashboard...",
	}, h.notes.all())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	_, err := h.store.Save(ctx, "s", testNow)
	require.NoError(t, err)
	h.gateway.validation = otpmodels.ValidSession(testPhone)
	require.NoError(t, h.c.Enter(ctx))
	require.Equal(t, Redirected, h.c.State().Phase)

	require.NoError(t, h.c.Logout(ctx))
	st := h.c.State()
	assert.Equal(t, PhoneEntry, st.Phase)
	assert.Nil(t, st.User)
	_, ok := h.store.Current(ctx, testNow)
	assert.False(t, ok)
}
