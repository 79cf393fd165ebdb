package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/repository"

	"go.uber.org/zap"
)

const (
	DefaultVonageBaseURL   = "https://rest.nexmo.com/sms/json"
	DefaultVonageBrandName = "Precix"
)

// VonageConfig configures the Vonage SMS provider
type VonageConfig struct {
	APIKey    string
	APISecret string
	BrandName string
	BaseURL   string
	// HTTPClient defaults to a client with a 10s timeout
	HTTPClient *http.Client
}

// Vonage texts a locally generated code through the Vonage SMS API and
// verifies it against the challenge ledger. Without credentials it only stores
// the code and echoes it back (development mode).
type Vonage struct {
	cfg      VonageConfig
	store    repository.ChallengeStore
	client   *http.Client
	log      *zap.Logger
	generate func() (string, error)
}

// NewVonage creates the Vonage provider
func NewVonage(cfg VonageConfig, store repository.ChallengeStore, log *zap.Logger) *Vonage {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultVonageBaseURL
	}
	if cfg.BrandName == "" {
		cfg.BrandName = DefaultVonageBrandName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Vonage{
		cfg:      cfg,
		store:    store,
		client:   newHTTPClient(cfg.HTTPClient),
		log:      log.Named("vonage"),
		generate: GenerateCode,
	}
}

// Name implements SmsProvider
func (v *Vonage) Name() models.ProviderName { return models.ProviderVonage }

// DevelopmentMode reports whether codes are stored without being texted
func (v *Vonage) DevelopmentMode() bool {
	return v.cfg.APIKey == "" || v.cfg.APISecret == ""
}

type vonageSMSRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

type vonageSMSResponse struct {
	MessageCount string          `json:"message-count"`
	Messages     []vonageMessage `json:"messages"`
}

type vonageMessage struct {
	To        string `json:"to"`
	MessageID string `json:"message-id"`
	Status    string `json:"status"`
	ErrorText string `json:"error-text"`
}

// VerificationText is the SMS body carrying code
func VerificationText(code string) string {
	return fmt.Sprintf("Your verification code is: %s. Valid for 5 minutes.", code)
}

// Send implements SmsProvider
func (v *Vonage) Send(ctx context.Context, phone string) (*models.GatewayResult, error) {
	masked := models.MaskPhone(phone)

	if v.DevelopmentMode() {
		v.log.Warn("credentials missing, code stored but not texted", zap.String("phone", masked))
		return issueDevelopmentCode(ctx, v.store, v.generate, phone)
	}

	code, err := v.generate()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(vonageSMSRequest{
		APIKey:    v.cfg.APIKey,
		APISecret: v.cfg.APISecret,
		From:      v.cfg.BrandName,
		To:        phone,
		Text:      VerificationText(code),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vonage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create vonage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Error("sms request failed", zap.String("phone", masked), zap.Error(err))
		return models.Failed(MsgSendFailed), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.log.Error("sms api returned http error", zap.String("phone", masked), zap.Int("status", resp.StatusCode))
		return models.Failed(fmt.Sprintf("HTTP error: %d", resp.StatusCode)), nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		v.log.Error("failed to read sms api response", zap.String("phone", masked), zap.Error(err))
		return models.Failed(MsgSendFailed), nil
	}

	var out vonageSMSResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		v.log.Error("failed to decode sms api response", zap.String("phone", masked), zap.Error(err))
		return models.Failed(MsgSendFailed), nil
	}

	if len(out.Messages) == 0 || out.Messages[0].Status != "0" {
		message := "Failed to send SMS"
		if len(out.Messages) > 0 && strings.TrimSpace(out.Messages[0].ErrorText) != "" {
			message = out.Messages[0].ErrorText
		}
		v.log.Warn("sms rejected", zap.String("phone", masked), zap.String("reason", message))
		return models.Failed(message), nil
	}

	if _, err := v.store.Put(ctx, phone, code); err != nil {
		return nil, err
	}

	v.log.Info("otp texted", zap.String("phone", masked), zap.String("message_id", out.Messages[0].MessageID))
	result := models.Succeeded(MsgSent)
	result.RequestID = out.Messages[0].MessageID
	return result, nil
}

// Verify implements SmsProvider
func (v *Vonage) Verify(ctx context.Context, phone, code string) (*models.GatewayResult, error) {
	result, err := consumeCode(ctx, v.store, phone, code)
	if err != nil {
		return nil, err
	}
	if result.Success {
		v.log.Info("otp verified", zap.String("phone", models.MaskPhone(phone)))
	} else {
		v.log.Warn("otp rejected", zap.String("phone", models.MaskPhone(phone)), zap.String("reason", result.Message))
	}
	return result, nil
}
