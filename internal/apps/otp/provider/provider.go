// Package provider holds the SMS providers the OTP gateway dispatches to.
// Every provider issues and verifies six-digit codes for a phone number and
// reports the outcome as a models.GatewayResult.
package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/repository"
)

// User-facing messages shared by the providers.
const (
	MsgSent          = "OTP sent successfully"
	MsgVerified      = "OTP verification successful"
	MsgNoChallenge   = "No verification code found. Please request a new code."
	MsgInvalidCode   = "Invalid verification code. Please try again."
	MsgSendFailed    = "Failed to send verification code"
	MsgVerifyFailed  = "Failed to verify code"
	devModeMsgFormat = "Development mode: OTP code %s generated (not sent via SMS)"
)

const defaultHTTPTimeout = 10 * time.Second

// ErrUnknownProvider is returned by Registry.Get for a name nobody registered.
var ErrUnknownProvider = errors.New("unknown provider")

// SmsProvider sends and verifies one-time codes.
// A provider-classified failure is a result with Success=false and a nil error;
// a non-nil error means something unexpected happened.
type SmsProvider interface {
	Name() models.ProviderName
	Send(ctx context.Context, phone string) (*models.GatewayResult, error)
	Verify(ctx context.Context, phone, code string) (*models.GatewayResult, error)
}

// SessionValidator answers whether a session id issued on verify is still live.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*models.SessionValidation, error)
}

// Registry maps provider names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.ProviderName]SmsProvider
	validator SessionValidator
}

// NewRegistry creates a Registry and registers providers in order
func NewRegistry(providers ...SmsProvider) *Registry {
	r := &Registry{providers: make(map[models.ProviderName]SmsProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider. The first registered provider that can
// validate sessions becomes the registry's session validator.
func (r *Registry) Register(p SmsProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if v, ok := p.(SessionValidator); ok && r.validator == nil {
		r.validator = v
	}
}

// SetValidator overrides the session validator
func (r *Registry) SetValidator(v SessionValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// Get returns the provider registered under name
func (r *Registry) Get(name models.ProviderName) (SmsProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Validator returns the session validator, or nil when none is registered
func (r *Registry) Validator() SessionValidator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validator
}

// Names lists registered providers in sorted order
func (r *Registry) Names() []models.ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]models.ProviderName, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

var codeSpan = big.NewInt(900000)

// GenerateCode returns a uniformly random code in [100000, 999999]
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}

// DevelopmentMessage is the send message returned when a code is only stored, not texted
func DevelopmentMessage(code string) string {
	return fmt.Sprintf(devModeMsgFormat, code)
}

// DevelopmentCode extracts the code from a DevelopmentMessage
func DevelopmentCode(message string) (string, bool) {
	var code string
	if _, err := fmt.Sscanf(message, "Development mode: OTP code %s generated", &code); err != nil {
		return "", false
	}
	if len(code) != models.CodeLength {
		return "", false
	}
	return code, true
}

// issueDevelopmentCode stores a fresh code without texting it
func issueDevelopmentCode(ctx context.Context, store repository.ChallengeStore, generate func() (string, error), phone string) (*models.GatewayResult, error) {
	code, err := generate()
	if err != nil {
		return nil, err
	}
	if _, err := store.Put(ctx, phone, code); err != nil {
		return nil, err
	}
	return models.Succeeded(DevelopmentMessage(code)), nil
}

// consumeCode checks code against the local ledger
func consumeCode(ctx context.Context, store repository.ChallengeStore, phone, code string) (*models.GatewayResult, error) {
	err := store.Consume(ctx, phone, code)
	switch {
	case err == nil:
		return models.Succeeded(MsgVerified), nil
	case errors.Is(err, repository.ErrChallengeNotFound):
		return models.Failed(MsgNoChallenge), nil
	case errors.Is(err, repository.ErrCodeMismatch):
		return models.Failed(MsgInvalidCode), nil
	default:
		return nil, err
	}
}

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}
