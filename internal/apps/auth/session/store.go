package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	otpmodels "portal-auth/internal/apps/otp/models"
)

// Persisted keys. Together they are the whole client-side auth state.
const (
	KeyRememberedPhone = "rememberedPhone"
	KeySessionID       = "gator_prime_session_id"
	KeySessionExpiry   = "gator_prime_session_expiry"
)

// Lifetime is how long a saved session stays valid
const Lifetime = 24 * time.Hour

// Session is a persisted login
type Session struct {
	ID        string
	ExpiresAt time.Time
}

// Valid reports whether the session has not expired at now
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Store reads and writes the auth state in a KV
type Store struct {
	kv KV
}

// NewStore creates a Store over kv
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Save persists sessionID with an expiry of now+24h
func (s *Store) Save(ctx context.Context, sessionID string, now time.Time) (Session, error) {
	if sessionID == "" {
		return Session{}, errors.New("session id is empty")
	}
	sess := Session{ID: sessionID, ExpiresAt: now.Add(Lifetime)}
	if err := s.kv.Set(ctx, KeySessionID, sessionID); err != nil {
		return Session{}, err
	}
	if err := s.kv.Set(ctx, KeySessionExpiry, strconv.FormatInt(sess.ExpiresAt.UnixMilli(), 10)); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Load returns the persisted session, expired or not. ErrNotFound when there is
// none or the expiry is unreadable.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	id, err := s.kv.Get(ctx, KeySessionID)
	if err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, KeySessionExpiry)
	if err != nil {
		return nil, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed session expiry %q", ErrNotFound, raw)
	}
	return &Session{ID: id, ExpiresAt: time.UnixMilli(ms)}, nil
}

// Current returns the persisted session if it is still valid at now.
// Stale sessions are left in place.
func (s *Store) Current(ctx context.Context, now time.Time) (*Session, bool) {
	sess, err := s.Load(ctx)
	if err != nil || !sess.Valid(now) {
		return nil, false
	}
	return sess, true
}

// Clear removes the session (logout). The remembered phone is kept.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, KeySessionID, KeySessionExpiry)
}

// RememberPhone stores the last phone number used
func (s *Store) RememberPhone(ctx context.Context, phone string) error {
	return s.kv.Set(ctx, KeyRememberedPhone, phone)
}

// RememberedPhone returns the last phone number used, or "" when none
func (s *Store) RememberedPhone(ctx context.Context) (string, error) {
	phone, err := s.kv.Get(ctx, KeyRememberedPhone)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return phone, err
}

// SynthesizeSessionID builds a session id for providers that issue none
func SynthesizeSessionID(provider otpmodels.ProviderName, phone string, now time.Time) string {
	return otpmodels.SynthesizeSessionID(provider, phone, now)
}
