package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/repository"

	"go.uber.org/zap"
)

const DefaultTwilioBaseURL = "https://verify.twilio.com/v2"

// TwilioConfig configures the Twilio Verify provider
type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	VerifyServiceSID string
	BaseURL          string
	HTTPClient       *http.Client
}

// Twilio delegates code generation and checking to Twilio Verify and issues a
// signed session token on success. Without credentials it falls back to the
// local challenge ledger (development mode).
type Twilio struct {
	cfg      TwilioConfig
	store    repository.ChallengeStore
	tokens   *TokenIssuer
	client   *http.Client
	log      *zap.Logger
	generate func() (string, error)
}

// NewTwilio creates the Twilio provider
func NewTwilio(cfg TwilioConfig, store repository.ChallengeStore, tokens *TokenIssuer, log *zap.Logger) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = zap.NewNop()
	}
	return &Twilio{
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		client:   newHTTPClient(cfg.HTTPClient),
		log:      log.Named("twilio"),
		generate: GenerateCode,
	}
}

// Name implements SmsProvider
func (t *Twilio) Name() models.ProviderName { return models.ProviderTwilio }

// DevelopmentMode reports whether the local ledger is used instead of Twilio Verify
func (t *Twilio) DevelopmentMode() bool {
	return t.cfg.AccountSID == "" || t.cfg.AuthToken == "" || t.cfg.VerifyServiceSID == ""
}

type twilioVerification struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Send implements SmsProvider
func (t *Twilio) Send(ctx context.Context, phone string) (*models.GatewayResult, error) {
	masked := models.MaskPhone(phone)

	if t.DevelopmentMode() {
		t.log.Warn("credentials missing, code stored but not texted", zap.String("phone", masked))
		return issueDevelopmentCode(ctx, t.store, t.generate, phone)
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", "sms")

	status, raw, err := t.post(ctx, "Verifications", form)
	if err != nil {
		t.log.Error("verification request failed", zap.String("phone", masked), zap.Error(err))
		return models.Failed(MsgSendFailed), nil
	}

	if status < 200 || status > 299 {
		message := twilioErrorMessage(raw, status)
		t.log.Warn("verification rejected", zap.String("phone", masked), zap.Int("status", status), zap.String("reason", message))
		return models.Failed(message), nil
	}

	var out twilioVerification
	if err := json.Unmarshal(raw, &out); err != nil {
		t.log.Error("failed to decode verification response", zap.String("phone", masked), zap.Error(err))
		return models.Failed(MsgSendFailed), nil
	}

	t.log.Info("otp texted", zap.String("phone", masked), zap.String("verification_sid", out.SID))
	result := models.Succeeded(MsgSent)
	result.RequestID = out.SID
	return result, nil
}

// Verify implements SmsProvider
func (t *Twilio) Verify(ctx context.Context, phone, code string) (*models.GatewayResult, error) {
	masked := models.MaskPhone(phone)

	var result *models.GatewayResult
	if t.DevelopmentMode() {
		var err error
		result, err = consumeCode(ctx, t.store, phone, code)
		if err != nil {
			return nil, err
		}
	} else {
		result = t.check(ctx, phone, code)
	}

	if !result.Success {
		t.log.Warn("otp rejected", zap.String("phone", masked), zap.String("reason", result.Message))
		return result, nil
	}

	token, _, err := t.tokens.Issue(string(t.Name()), phone)
	if err != nil {
		return nil, err
	}
	result.SessionID = token
	t.log.Info("otp verified", zap.String("phone", masked))
	return result, nil
}

func (t *Twilio) check(ctx context.Context, phone, code string) *models.GatewayResult {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)

	status, raw, err := t.post(ctx, "VerificationCheck", form)
	if err != nil {
		t.log.Error("verification check failed", zap.String("phone", models.MaskPhone(phone)), zap.Error(err))
		return models.Failed(MsgVerifyFailed)
	}

	switch {
	case status == http.StatusNotFound:
		// Twilio answers 404 once a verification expired, was approved, or never existed.
		return models.Failed(MsgNoChallenge)
	case status < 200 || status > 299:
		return models.Failed(MsgInvalidCode)
	}

	var out twilioVerification
	if err := json.Unmarshal(raw, &out); err != nil || out.Status != "approved" {
		return models.Failed(MsgInvalidCode)
	}
	return models.Succeeded(MsgVerified)
}

// ValidateSession implements SessionValidator
func (t *Twilio) ValidateSession(ctx context.Context, sessionID string) (*models.SessionValidation, error) {
	if sessionID == "" {
		return models.InvalidSession(), nil
	}
	phone, err := t.tokens.Parse(sessionID)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return models.InvalidSession(), nil
		}
		return nil, err
	}
	return models.ValidSession(phone), nil
}

func (t *Twilio) post(ctx context.Context, resource string, form url.Values) (int, []byte, error) {
	endpoint := fmt.Sprintf("%s/Services/%s/%s", t.cfg.BaseURL, t.cfg.VerifyServiceSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func twilioErrorMessage(raw []byte, status int) string {
	var e twilioError
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error: %d", status)
}
