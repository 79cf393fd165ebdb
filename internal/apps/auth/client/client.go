// Package client talks to the portal-auth HTTP API on behalf of the login flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	authmodels "portal-auth/internal/apps/auth/models"
	"portal-auth/internal/apps/otp/models"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// ErrServer wraps non-2xx responses whose body could not be read as a result
var ErrServer = errors.New("server error")

// Client calls the OTP and profile endpoints
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New creates a Client for the server at baseURL. A nil httpClient gets a default with a timeout.
func New(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log,
	}
}

// SendOTP calls POST /api/send-otp. Rejections come back as a failed result,
// transport and decoding problems as an error.
func (c *Client) SendOTP(ctx context.Context, phone string, provider models.ProviderName) (*models.GatewayResult, error) {
	body := models.SendOTPRequest{
		PhoneNumber: phone,
		UseVonage:   provider == models.ProviderVonage,
		Provider:    string(provider),
	}
	return c.gatewayCall(ctx, "/api/send-otp", body)
}

// VerifyOTP calls POST /api/verify-otp
func (c *Client) VerifyOTP(ctx context.Context, phone, code string, provider models.ProviderName) (*models.GatewayResult, error) {
	body := models.VerifyOTPRequest{
		PhoneNumber: phone,
		Code:        code,
		UseVonage:   provider == models.ProviderVonage,
		Provider:    string(provider),
	}
	return c.gatewayCall(ctx, "/api/verify-otp", body)
}

// ValidateSession calls POST /api/validate-session
func (c *Client) ValidateSession(ctx context.Context, sessionID string) (*models.SessionValidation, error) {
	status, raw, err := c.post(ctx, "/api/validate-session", models.ValidateSessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrServer, status)
	}

	var out models.SessionValidation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode validate response: %w", err)
	}
	return &out, nil
}

// ResolveProfile calls POST /api/v1/users/resolve and returns the profile for phone
func (c *Client) ResolveProfile(ctx context.Context, phone, sessionID string) (*authmodels.User, error) {
	status, raw, err := c.post(ctx, "/api/v1/users/resolve", map[string]string{
		"phone_number": phone,
		"session_id":   sessionID,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data  *authmodels.User `json:"data"`
		Error string           `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrServer, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d %s", ErrServer, status, out.Error)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: empty profile", ErrServer)
	}
	return out.Data, nil
}

func (c *Client) gatewayCall(ctx context.Context, path string, body interface{}) (*models.GatewayResult, error) {
	status, raw, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	var out models.GatewayResult
	if err := json.Unmarshal(raw, &out); err != nil {
		if status < 200 || status > 299 {
			return models.Failed(fmt.Sprintf("Server error: %d", status)), nil
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if status < 200 || status > 299 {
		out.Success = false
		if out.Message == "" {
			out.Message = fmt.Sprintf("Server error: %d", status)
		}
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("request failed", zap.String("path", path), zap.Error(err))
		return 0, nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	c.log.Debug("response", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return resp.StatusCode, raw, nil
}
