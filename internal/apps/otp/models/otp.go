package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderName identifies an SMS provider in the registry and in session ids
type ProviderName string

const (
	ProviderVonage ProviderName = "vonage"
	ProviderTwilio ProviderName = "twilio"
)

// CodeLength is the number of digits in a one-time code
const CodeLength = 6

// OtpChallenge is a pending code for one provider+phone pair
type OtpChallenge struct {
	Provider  ProviderName
	Phone     string
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge can no longer be verified at now
func (c *OtpChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeKey is the per-phone ledger key
func ChallengeKey(phone string) string {
	return "otp_" + phone
}

// OTPChallengeRecord is the postgres row behind a pending challenge
type OTPChallengeRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider  string    `gorm:"size:32;not null;uniqueIndex:idx_otp_challenge_provider_phone"`
	Phone     string    `gorm:"size:20;not null;uniqueIndex:idx_otp_challenge_provider_phone"`
	Value     string    `gorm:"size:255;not null"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the table name to 'otp_challenges'
func (OTPChallengeRecord) TableName() string { return "otp_challenges" }

// SessionRecord is the postgres row behind an issued synthesized session id
type SessionRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex"`
	Phone     string    `gorm:"size:20;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

// TableName sets the table name to 'otp_sessions'
func (SessionRecord) TableName() string { return "otp_sessions" }

// GatewayResult is the normalized shape every provider response is coerced into
type GatewayResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(message string) *GatewayResult {
	return &GatewayResult{Success: true, Message: message}
}

// Failed builds a failed result
func Failed(message string) *GatewayResult {
	return &GatewayResult{Success: false, Message: message}
}

// SessionValidation is the answer to a session-validate request
type SessionValidation struct {
	Valid bool    `json:"valid"`
	Phone *string `json:"phone_number"`
}

// InvalidSession is the answer for unknown, expired or unverifiable sessions
func InvalidSession() *SessionValidation {
	return &SessionValidation{Valid: false, Phone: nil}
}

// ValidSession is the answer for a live session belonging to phone
func ValidSession(phone string) *SessionValidation {
	return &SessionValidation{Valid: true, Phone: &phone}
}

// SendOTPRequest payload for POST /api/send-otp
type SendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	UseVonage   bool   `json:"use_vonage"`
	// Provider names a registered provider explicitly and wins over UseVonage
	Provider string `json:"provider,omitempty"`
}

// VerifyOTPRequest payload for POST /api/verify-otp
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
	UseVonage   bool   `json:"use_vonage"`
	Provider    string `json:"provider,omitempty"`
}

// ValidateSessionRequest payload for POST /api/validate-session
type ValidateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// SelectProvider resolves the provider a request is routed to
func SelectProvider(explicit string, useVonage bool) ProviderName {
	if p := strings.TrimSpace(explicit); p != "" {
		return ProviderName(strings.ToLower(p))
	}
	if useVonage {
		return ProviderVonage
	}
	return ProviderTwilio
}

// SynthesizeSessionID builds a session handle for providers that do not issue one:
// <provider>_<epoch-millis>_<digits-of-phone>
func SynthesizeSessionID(provider ProviderName, phone string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", provider, now.UnixMilli(), PhoneDigits(phone))
}

// IsSynthesizedSession reports whether sessionID was built by SynthesizeSessionID for provider
func IsSynthesizedSession(sessionID string, provider ProviderName) bool {
	return strings.HasPrefix(sessionID, string(provider)+"_")
}

// SynthesizedSessionPhoneDigits returns the phone digits embedded in a synthesized session id
func SynthesizedSessionPhoneDigits(sessionID string) (string, bool) {
	parts := strings.Split(sessionID, "_")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	if PhoneDigits(parts[1]) != parts[1] || PhoneDigits(parts[2]) != parts[2] {
		return "", false
	}
	return parts[2], true
}
