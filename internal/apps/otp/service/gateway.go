package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/provider"
	"portal-auth/internal/apps/otp/repository"
	"portal-auth/internal/common/events"
	"portal-auth/internal/common/metrics"

	"go.uber.org/zap"
)

var (
	// ErrValidation marks a request rejected before any provider was reached
	ErrValidation = errors.New("validation failed")
	// ErrUnexpected marks a provider error or panic; callers answer with a generic server error
	ErrUnexpected = errors.New("unexpected error")
)

const (
	MsgPhoneRequired        = "Phone number is required"
	MsgPhoneAndCodeRequired = "Phone number and code are required"
	MsgServerError          = "Server error"
)

// Gateway is the server side of the OTP flow: it validates requests, routes
// them to a provider and normalizes what comes back.
type Gateway interface {
	SendOTP(ctx context.Context, req models.SendOTPRequest) (*models.GatewayResult, error)
	VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.GatewayResult, error)
	// ValidateSession never fails; anything it cannot confirm is an invalid session.
	ValidateSession(ctx context.Context, sessionID string) *models.SessionValidation
}

// gateway implements Gateway
type gateway struct {
	registry  *provider.Registry
	sessions  repository.SessionLedger
	metrics   *metrics.Metrics
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewGateway creates a Gateway over the providers in registry. Session ids it
// synthesizes are recorded in sessions; with a nil ledger they never validate.
// m and publisher may be nil.
func NewGateway(registry *provider.Registry, sessions repository.SessionLedger, m *metrics.Metrics, publisher events.Publisher, log *zap.Logger) Gateway {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &gateway{
		registry:  registry,
		sessions:  sessions,
		metrics:   m,
		publisher: publisher,
		log:       log.Named("gateway"),
		now:       time.Now,
	}
}

// SendOTP issues a code to req.PhoneNumber through the selected provider
func (g *gateway) SendOTP(ctx context.Context, req models.SendOTPRequest) (*models.GatewayResult, error) {
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return models.Failed(MsgPhoneRequired), ErrValidation
	}
	phone := models.NormalizePhone(req.PhoneNumber)

	p, result, err := g.resolve(req.Provider, req.UseVonage)
	if err != nil {
		return result, err
	}
	name := string(p.Name())

	g.log.Info("sending otp", zap.String("provider", name), zap.String("phone", models.MaskPhone(phone)))
	started := time.Now()
	result, err = g.call(name, "send", func() (*models.GatewayResult, error) {
		return p.Send(ctx, phone)
	})
	g.metrics.ObserveProviderCall(name, "send", started)

	if err != nil {
		g.metrics.RecordSend(name, metrics.OutcomeError)
		g.emit(ctx, events.TypeOTPSendFailed, name, phone, MsgServerError)
		return nil, err
	}

	g.metrics.RecordSend(name, metrics.Outcome(result.Success))
	if result.Success {
		g.emit(ctx, events.TypeOTPSent, name, phone, "")
	} else {
		g.log.Warn("otp send rejected", zap.String("provider", name), zap.String("phone", models.MaskPhone(phone)), zap.String("reason", result.Message))
		g.emit(ctx, events.TypeOTPSendFailed, name, phone, result.Message)
	}
	return result, nil
}

// VerifyOTP checks req.Code with the selected provider. A successful result
// always carries a session id.
func (g *gateway) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) (*models.GatewayResult, error) {
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.Code) == "" {
		return models.Failed(MsgPhoneAndCodeRequired), ErrValidation
	}
	phone := models.NormalizePhone(req.PhoneNumber)
	code := strings.TrimSpace(req.Code)

	p, result, err := g.resolve(req.Provider, req.UseVonage)
	if err != nil {
		return result, err
	}
	name := string(p.Name())

	started := time.Now()
	result, err = g.call(name, "verify", func() (*models.GatewayResult, error) {
		return p.Verify(ctx, phone, code)
	})
	g.metrics.ObserveProviderCall(name, "verify", started)

	if err != nil {
		g.metrics.RecordVerify(name, metrics.OutcomeError)
		g.emit(ctx, events.TypeOTPVerifyFailed, name, phone, MsgServerError)
		return nil, err
	}

	if !result.Success {
		g.metrics.RecordVerify(name, metrics.Outcome(false))
		g.emit(ctx, events.TypeOTPVerifyFailed, name, phone, result.Message)
		return result, nil
	}

	if result.SessionID == "" {
		result.SessionID = models.SynthesizeSessionID(p.Name(), phone, g.now())
		if err := g.recordSession(ctx, result.SessionID, phone); err != nil {
			g.log.Error("failed to record session", zap.String("provider", name), zap.Error(err))
			g.metrics.RecordVerify(name, metrics.OutcomeError)
			return nil, fmt.Errorf("%w: %s verify: %w", ErrUnexpected, name, err)
		}
	}
	g.metrics.RecordVerify(name, metrics.Outcome(true))
	g.log.Info("otp verified", zap.String("provider", name), zap.String("phone", models.MaskPhone(phone)))
	g.emit(ctx, events.TypeOTPVerified, name, phone, "")
	return result, nil
}

// ValidateSession accepts synthesized ids found in the session ledger and asks
// the registered session validator about everything else
func (g *gateway) ValidateSession(ctx context.Context, sessionID string) (validation *models.SessionValidation) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("session validator panicked", zap.Any("panic", r))
			validation = models.InvalidSession()
		}
		g.metrics.RecordSessionValidation(validation.Valid)
	}()

	if strings.TrimSpace(sessionID) == "" {
		return models.InvalidSession()
	}
	if res := g.lookupSession(ctx, sessionID); res != nil {
		return res
	}
	v := g.registry.Validator()
	if v == nil {
		return models.InvalidSession()
	}

	res, err := v.ValidateSession(ctx, sessionID)
	if err != nil {
		g.log.Error("session validation failed", zap.Error(err))
		return models.InvalidSession()
	}
	if res == nil || !res.Valid || res.Phone == nil {
		return models.InvalidSession()
	}
	return res
}

func (g *gateway) recordSession(ctx context.Context, sessionID, phone string) error {
	if g.sessions == nil {
		return nil
	}
	return g.sessions.Record(ctx, sessionID, phone)
}

// lookupSession returns nil unless sessionID is a synthesized id this gateway recorded
func (g *gateway) lookupSession(ctx context.Context, sessionID string) *models.SessionValidation {
	if g.sessions == nil {
		return nil
	}
	if _, ok := models.SynthesizedSessionPhoneDigits(sessionID); !ok {
		return nil
	}
	phone, err := g.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			g.log.Error("session lookup failed", zap.Error(err))
		}
		return nil
	}
	return models.ValidSession(phone)
}

// resolve picks the provider for a request; unknown names are a validation error
func (g *gateway) resolve(explicit string, useVonage bool) (provider.SmsProvider, *models.GatewayResult, error) {
	name := models.SelectProvider(explicit, useVonage)
	p, err := g.registry.Get(name)
	if err != nil {
		return nil, models.Failed(fmt.Sprintf("Unsupported provider: %s", name)), ErrValidation
	}
	return p, nil, nil
}

// call runs a provider operation and turns errors and panics into ErrUnexpected
func (g *gateway) call(name, op string, fn func() (*models.GatewayResult, error)) (result *models.GatewayResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("provider panicked", zap.String("provider", name), zap.String("operation", op), zap.Any("panic", r))
			result, err = nil, fmt.Errorf("%w: %s %s panicked", ErrUnexpected, name, op)
		}
	}()

	result, err = fn()
	if err != nil {
		g.log.Error("provider call failed", zap.String("provider", name), zap.String("operation", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnexpected, name, op, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s %s returned no result", ErrUnexpected, name, op)
	}
	return result, nil
}

// emit publishes an auth event; failures are logged and otherwise ignored
func (g *gateway) emit(ctx context.Context, eventType, providerName, phone, message string) {
	err := g.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		Provider:   providerName,
		Phone:      models.MaskPhone(phone),
		Message:    message,
		OccurredAt: g.now().UTC(),
	})
	if err != nil {
		g.log.Warn("failed to publish auth event", zap.String("type", eventType), zap.Error(err))
	}
}
