package repository

import (
	"context"
	"sync"
	"time"

	"portal-auth/internal/apps/otp/models"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryEntries = 10000

// memoryChallengeStore keeps challenges in a process-local expiring LRU
type memoryChallengeStore struct {
	provider models.ProviderName
	ttl      time.Duration
	cache    *lru.LRU[string, models.OtpChallenge]
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryChallengeStore creates a ChallengeStore backed by an expiring LRU.
// maxEntries <= 0 uses a default capacity.
func NewMemoryChallengeStore(provider models.ProviderName, ttl time.Duration, maxEntries int) ChallengeStore {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &memoryChallengeStore{
		provider: provider,
		ttl:      ttl,
		cache:    lru.NewLRU[string, models.OtpChallenge](maxEntries, nil, ttl),
		now:      time.Now,
	}
}

// Put creates or overrides the challenge for a phone number
func (s *memoryChallengeStore) Put(ctx context.Context, phone, code string) (*models.OtpChallenge, error) {
	now := s.now()
	challenge := models.OtpChallenge{
		Provider:  s.provider,
		Phone:     phone,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(models.ChallengeKey(phone), challenge)
	return &challenge, nil
}

// Get retrieves the live challenge for a phone number
func (s *memoryChallengeStore) Get(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.live(phone)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &challenge, nil
}

// Consume verifies and removes the challenge in one critical section
func (s *memoryChallengeStore) Consume(ctx context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.live(phone)
	if !ok {
		return ErrChallengeNotFound
	}
	if !codesEqual(code, challenge.Code) {
		return ErrCodeMismatch
	}
	s.cache.Remove(models.ChallengeKey(phone))
	return nil
}

// live must be called with mu held
func (s *memoryChallengeStore) live(phone string) (models.OtpChallenge, bool) {
	key := models.ChallengeKey(phone)
	challenge, ok := s.cache.Get(key)
	if !ok {
		return models.OtpChallenge{}, false
	}
	if challenge.Expired(s.now()) {
		s.cache.Remove(key)
		return models.OtpChallenge{}, false
	}
	return challenge, true
}
