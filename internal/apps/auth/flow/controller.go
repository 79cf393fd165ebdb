// Package flow drives the phone + OTP login: phone entry, code entry and the
// role-based redirect. All state lives in one State value guarded by the
// Controller; network calls run without holding the lock.
package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	authmodels "portal-auth/internal/apps/auth/models"
	"portal-auth/internal/apps/auth/router"
	"portal-auth/internal/apps/auth/session"
	otpmodels "portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/provider"
	usermodels "portal-auth/internal/apps/user/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is where the user is in the login
type Phase int

const (
	PhoneEntry Phase = iota
	OtpSent
	Redirected
)

func (p Phase) String() string {
	switch p {
	case PhoneEntry:
		return "phone_entry"
	case OtpSent:
		return "otp_sent"
	case Redirected:
		return "redirected"
	}
	return "unknown"
}

// ResendCooldown is the countdown, in ticks, started by every successful send
const ResendCooldown = 60

// User-facing messages
const (
	MsgPhoneRequired   = "Phone number is required."
	MsgCaptchaRequired = "Please complete the captcha verification."
	MsgCodeRequired    = "Verification code is required."
	MsgCodeSent        = "Verification code sent successfully!"
	MsgVerified        = "OTP verified successfully!"
	MsgDevVerified     = "Dev mode: OTP verified successfully!"
	MsgDevModeOn       = "Developer mode enabled. OTP verification will be bypassed."
	MsgDevModeOff      = "Developer mode disabled."
	MsgSendFailed      = "Failed to send OTP. Please try again."
	MsgVerifyFailed    = "Failed to verify OTP. Please try again."
	MsgProfileFailed   = "Failed to get user profile"
	devCodeHintFormat  = "Dev mode: OTP is "
	devUserIDPrefix    = "dev-user-id-"
)

var (
	ErrClosed             = errors.New("controller closed")
	ErrBusy               = errors.New("a request is already in flight")
	ErrResendSuppressed   = errors.New("resend suppressed until the countdown ends")
	ErrDevModeUnavailable = errors.New("developer mode is not available in this build")
)

// Level classifies a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier surfaces transient messages to the user
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(level Level, message string)

// Notify implements Notifier
func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Gateway is the OTP API the flow talks to
type Gateway interface {
	SendOTP(ctx context.Context, phone string, provider otpmodels.ProviderName) (*otpmodels.GatewayResult, error)
	VerifyOTP(ctx context.Context, phone, code string, provider otpmodels.ProviderName) (*otpmodels.GatewayResult, error)
	ValidateSession(ctx context.Context, sessionID string) (*otpmodels.SessionValidation, error)
}

// ProfileResolver finds or creates the profile for a verified phone
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, phone, sessionID string) (*authmodels.User, error)
}

// State is a snapshot of the flow
type State struct {
	Phase           Phase
	Phone           string
	Code            string
	Provider        otpmodels.ProviderName
	CaptchaPassed   bool
	DeveloperMode   bool
	Loading         bool
	Error           string
	Countdown       int
	TargetPatientID string
	User            *authmodels.User
	Redirect        string
}

// Options configures a Controller
type Options struct {
	// Provider defaults to twilio
	Provider        otpmodels.ProviderName
	TargetPatientID string
	// TickInterval starts a countdown goroutine after each send when > 0.
	// With 0 the caller drives the countdown through Tick or RunCountdown.
	TickInterval time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Controller runs one login flow
type Controller struct {
	gateway  Gateway
	profiles ProfileResolver
	sessions *session.Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	interval time.Duration

	devModeAllowed bool

	mu              sync.Mutex
	state           State
	mounted         bool
	closed          chan struct{}
	cancelCountdown context.CancelFunc
}

type note struct {
	level   Level
	message string
}

// New creates a mounted Controller
func New(gateway Gateway, profiles ProfileResolver, sessions *session.Store, notifier Notifier, opts Options) *Controller {
	if opts.Provider == "" {
		opts.Provider = otpmodels.ProviderTwilio
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Level, string) {})
	}
	return &Controller{
		gateway:        gateway,
		profiles:       profiles,
		sessions:       sessions,
		notifier:       notifier,
		log:            opts.Logger,
		now:            opts.Now,
		interval:       opts.TickInterval,
		devModeAllowed: DevModeAvailable,
		mounted:        true,
		closed:         make(chan struct{}),
		state: State{
			Phase:           PhoneEntry,
			Provider:        opts.Provider,
			TargetPatientID: opts.TargetPatientID,
		},
	}
}

// State returns a copy of the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Enter restores the remembered phone and, when a live session is stored,
// resolves the profile and redirects without asking for a code.
func (c *Controller) Enter(ctx context.Context) error {
	if !c.isMounted() {
		return ErrClosed
	}

	remembered, err := c.sessions.RememberedPhone(ctx)
	if err != nil {
		c.log.Warn("failed to read remembered phone", zap.Error(err))
	}
	if remembered != "" {
		c.mu.Lock()
		if c.state.Phone == "" {
			c.state.Phone = remembered
		}
		c.mu.Unlock()
	}

	sess, ok := c.sessions.Current(ctx, c.now())
	if !ok {
		return nil
	}

	phone, ok := c.sessionPhone(ctx, sess.ID)
	if !ok {
		return nil
	}

	user, err := c.profiles.ResolveProfile(ctx, phone, sess.ID)
	if err != nil {
		c.log.Warn("stored session did not resolve to a profile", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrClosed
	}
	notes := c.redirectLocked(user)
	c.mu.Unlock()
	c.emit(notes)
	return nil
}

// sessionPhone revalidates a stored session and returns the phone it belongs to.
// Invalid sessions are cleared; unreachable servers leave them in place.
func (c *Controller) sessionPhone(ctx context.Context, sessionID string) (string, bool) {
	if digits, ok := synthesizedDigits(sessionID); ok {
		// local expiry was already checked by Current
		return otpmodels.NormalizePhone(digits), true
	}

	v, err := c.gateway.ValidateSession(ctx, sessionID)
	if err != nil {
		c.log.Warn("session validation failed", zap.Error(err))
		return "", false
	}
	if !v.Valid || v.Phone == nil {
		if err := c.sessions.Clear(ctx); err != nil {
			c.log.Warn("failed to clear invalid session", zap.Error(err))
		}
		return "", false
	}
	return *v.Phone, true
}

func synthesizedDigits(sessionID string) (string, bool) {
	if !otpmodels.IsSynthesizedSession(sessionID, otpmodels.ProviderVonage) &&
		!otpmodels.IsSynthesizedSession(sessionID, otpmodels.ProviderTwilio) {
		return "", false
	}
	return otpmodels.SynthesizedSessionPhoneDigits(sessionID)
}

// SetPhone updates the phone field
func (c *Controller) SetPhone(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Phone = phone
}

// SetCode updates the code field
func (c *Controller) SetCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Code = strings.TrimSpace(code)
}

// PassCaptcha records the captcha outcome
func (c *Controller) PassCaptcha(passed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CaptchaPassed = passed
}

// SelectProvider picks the SMS provider used for send and verify
func (c *Controller) SelectProvider(name otpmodels.ProviderName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Provider = name
}

// SetDeveloperMode toggles the captcha and verification bypass
func (c *Controller) SetDeveloperMode(on bool) error {
	if on && !c.devModeAllowed {
		return ErrDevModeUnavailable
	}

	c.mu.Lock()
	if c.state.DeveloperMode == on {
		c.mu.Unlock()
		return nil
	}
	c.state.DeveloperMode = on
	c.mu.Unlock()

	if on {
		c.emit([]note{{LevelInfo, MsgDevModeOn}})
	} else {
		c.emit([]note{{LevelInfo, MsgDevModeOff}})
	}
	return nil
}

// SubmitPhone sends a code to the entered phone. Failures are reported through
// the state and the notifier; the returned error covers only ErrClosed and ErrBusy.
func (c *Controller) SubmitPhone(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if strings.TrimSpace(c.state.Phone) == "" {
		return c.failAndUnlock(MsgPhoneRequired)
	}
	if !c.state.CaptchaPassed && !c.state.DeveloperMode {
		return c.failAndUnlock(MsgCaptchaRequired)
	}
	phone := otpmodels.NormalizePhone(c.state.Phone)
	providerName := c.state.Provider
	dev := c.state.DeveloperMode
	c.state.Loading = true
	c.mu.Unlock()

	c.log.Info("sending code", zap.String("phone", otpmodels.MaskPhone(phone)), zap.String("provider", string(providerName)))
	res, err := c.gateway.SendOTP(ctx, phone, providerName)

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Loading = false
	if err != nil {
		c.log.Error("send failed", zap.Error(err))
		return c.failAndUnlock(MsgSendFailed)
	}
	if res == nil || !res.Success {
		return c.failAndUnlock(resultMessage(res, MsgSendFailed))
	}

	c.state.Phase = OtpSent
	c.state.Countdown = ResendCooldown
	c.startCountdownLocked()
	c.mu.Unlock()

	if err := c.sessions.RememberPhone(ctx, phone); err != nil {
		c.log.Warn("failed to remember phone", zap.Error(err))
	}

	notes := []note{{LevelSuccess, MsgCodeSent}}
	if dev {
		if code, ok := provider.DevelopmentCode(res.Message); ok {
			notes = append(notes, note{LevelInfo, devCodeHintFormat + code})
		}
	}
	c.emit(notes)
	return nil
}

// Tick decrements the resend countdown, never below zero
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Countdown > 0 {
		c.state.Countdown--
	}
}

// RunCountdown ticks every interval until the countdown reaches zero, ctx is
// cancelled or the controller is closed.
func (c *Controller) RunCountdown(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.Tick()
			if c.State().Countdown == 0 {
				return
			}
		}
	}
}

func (c *Controller) startCountdownLocked() {
	if c.interval <= 0 {
		return
	}
	if c.cancelCountdown != nil {
		c.cancelCountdown()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCountdown = cancel
	go c.RunCountdown(ctx, c.interval)
}

// Resend clears the code and sends again to the same phone. It is refused
// while the countdown is running.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Countdown > 0 {
		c.mu.Unlock()
		return ErrResendSuppressed
	}
	c.state.Code = ""
	c.mu.Unlock()
	return c.SubmitPhone(ctx)
}

// SubmitCode verifies the entered code, persists the session and redirects.
// Like SubmitPhone, failures land in the state.
func (c *Controller) SubmitCode(ctx context.Context) error {
	c.mu.Lock()
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.Code == "" {
		return c.failAndUnlock(MsgCodeRequired)
	}
	phone := otpmodels.NormalizePhone(c.state.Phone)
	code := c.state.Code
	providerName := c.state.Provider

	if c.state.DeveloperMode {
		user := &authmodels.User{
			ID:          devUserIDPrefix + uuid.NewString(),
			Phone:       phone,
			ProfileType: usermodels.ProfilePatient,
		}
		notes := append([]note{{LevelSuccess, MsgDevVerified}}, c.redirectLocked(user)...)
		c.mu.Unlock()
		c.emit(notes)
		return nil
	}
	c.state.Loading = true
	c.mu.Unlock()

	res, err := c.gateway.VerifyOTP(ctx, phone, code, providerName)
	if err != nil {
		c.log.Error("verify failed", zap.Error(err))
		return c.finishWithError(MsgVerifyFailed)
	}
	if res == nil || !res.Success {
		return c.finishWithError(resultMessage(res, MsgVerifyFailed))
	}
	if !c.isMounted() {
		return ErrClosed
	}

	sessionID := res.SessionID
	if sessionID == "" {
		sessionID = session.SynthesizeSessionID(providerName, phone, c.now())
	}
	// persisted before the profile lookup so a failed lookup still leaves a usable session
	if _, err := c.sessions.Save(ctx, sessionID, c.now()); err != nil {
		c.log.Warn("failed to persist session", zap.Error(err))
	}

	user, err := c.profiles.ResolveProfile(ctx, phone, sessionID)
	if err != nil {
		c.log.Error("profile lookup failed", zap.Error(err))
		return c.finishWithError(MsgProfileFailed)
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Loading = false
	notes := append([]note{{LevelSuccess, MsgVerified}}, c.redirectLocked(user)...)
	c.mu.Unlock()
	c.emit(notes)
	return nil
}

// Back returns from code entry to phone entry, keeping the phone
func (c *Controller) Back() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != OtpSent {
		return
	}
	c.state.Phase = PhoneEntry
	c.state.Code = ""
	c.state.Error = ""
}

// Logout clears the stored session and returns to phone entry
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.sessions.Clear(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Phase = PhoneEntry
	c.state.Code = ""
	c.state.User = nil
	c.state.Redirect = ""
	return nil
}

// Close tears the controller down. Responses that arrive afterwards are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return
	}
	c.mounted = false
	if c.cancelCountdown != nil {
		c.cancelCountdown()
	}
	close(c.closed)
}

func (c *Controller) isMounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// beginLocked must be called with mu held
func (c *Controller) beginLocked() error {
	if !c.mounted {
		return ErrClosed
	}
	if c.state.Loading {
		return ErrBusy
	}
	c.state.Error = ""
	return nil
}

// failAndUnlock records message as the error, releases mu and notifies
func (c *Controller) failAndUnlock(message string) error {
	c.state.Loading = false
	c.state.Error = message
	c.mu.Unlock()
	c.emit([]note{{LevelError, message}})
	return nil
}

func (c *Controller) finishWithError(message string) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrClosed
	}
	return c.failAndUnlock(message)
}

// redirectLocked must be called with mu held
func (c *Controller) redirectLocked(user *authmodels.User) []note {
	c.state.User = user
	c.state.Redirect = router.Route(*user, c.state.TargetPatientID)
	c.state.Phase = Redirected
	c.state.Error = ""
	if c.cancelCountdown != nil {
		c.cancelCountdown()
		c.cancelCountdown = nil
	}
	return []note{{LevelSuccess, router.Greeting(*user, c.state.TargetPatientID)}}
}

func (c *Controller) emit(notes []note) {
	if !c.isMounted() {
		return
	}
	for _, n := range notes {
		c.notifier.Notify(n.level, n.message)
	}
}

func resultMessage(res *otpmodels.GatewayResult, fallback string) string {
	if res == nil || strings.TrimSpace(res.Message) == "" {
		return fallback
	}
	return res.Message
}
