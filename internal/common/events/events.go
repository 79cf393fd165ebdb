// Package events publishes authentication events (code sent, verified, rejected)
// for downstream auditing. Publishing is best-effort: callers log and ignore errors.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeOTPSent         = "otp.sent"
	TypeOTPSendFailed   = "otp.send_failed"
	TypeOTPVerified     = "otp.verified"
	TypeOTPVerifyFailed = "otp.verify_failed"
	TypeProfileResolved = "profile.resolved"
)

// Event is one authentication event. Phone is always masked.
type Event struct {
	Type       string    `json:"type"`
	Provider   string    `json:"provider,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	// Close releases resources. Safe to call more than once.
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
