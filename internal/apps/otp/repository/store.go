package repository

import (
	"context"
	"crypto/subtle"
	"errors"

	"portal-auth/internal/apps/otp/models"
)

var (
	// ErrChallengeNotFound means no live code exists for the phone (never sent, consumed or expired)
	ErrChallengeNotFound = errors.New("otp challenge not found")
	// ErrCodeMismatch means a live code exists but the submitted one differs; the challenge is kept
	ErrCodeMismatch = errors.New("otp code mismatch")
)

// ChallengeStore is the pending-code ledger of one provider. Entries are keyed
// per phone, expire after the store's TTL, and are overwritten by a new Put.
type ChallengeStore interface {
	// Put stores code for phone, replacing any previous challenge.
	Put(ctx context.Context, phone, code string) (*models.OtpChallenge, error)
	// Get returns the live challenge for phone or ErrChallengeNotFound.
	Get(ctx context.Context, phone string) (*models.OtpChallenge, error)
	// Consume atomically compares code with the live challenge and deletes it on a match.
	// Returns nil, ErrChallengeNotFound or ErrCodeMismatch.
	Consume(ctx context.Context, phone, code string) error
}

func codesEqual(submitted, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
