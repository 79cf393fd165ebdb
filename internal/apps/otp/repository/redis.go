package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"portal-auth/internal/apps/otp/models"

	"github.com/redis/go-redis/v9"
)

// consumeScript returns 0 when no code is stored, 1 on a match (key deleted), 2 on a mismatch
var consumeScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code')
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 2
`)

// redisChallengeStore keeps challenges as hashes under <provider>:otp_<phone> with a key TTL
type redisChallengeStore struct {
	client   redis.UniversalClient
	provider models.ProviderName
	ttl      time.Duration
	now      func() time.Time
}

// NewRedisChallengeStore creates a ChallengeStore backed by Redis
func NewRedisChallengeStore(client redis.UniversalClient, provider models.ProviderName, ttl time.Duration) ChallengeStore {
	return &redisChallengeStore{
		client:   client,
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *redisChallengeStore) key(phone string) string {
	return string(s.provider) + ":" + models.ChallengeKey(phone)
}

// Put creates or overrides the challenge for a phone number
func (s *redisChallengeStore) Put(ctx context.Context, phone, code string) (*models.OtpChallenge, error) {
	now := s.now()
	challenge := &models.OtpChallenge{
		Provider:  s.provider,
		Phone:     phone,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	key := s.key(phone)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", code,
			"issued_at", strconv.FormatInt(now.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(challenge.ExpiresAt.UnixMilli(), 10),
		)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store otp challenge: %w", err)
	}
	return challenge, nil
}

// Get retrieves the live challenge for a phone number
func (s *redisChallengeStore) Get(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read otp challenge: %w", err)
	}
	code, ok := fields["code"]
	if !ok {
		return nil, ErrChallengeNotFound
	}

	challenge := &models.OtpChallenge{
		Provider:  s.provider,
		Phone:     phone,
		Code:      code,
		IssuedAt:  parseMillis(fields["issued_at"]),
		ExpiresAt: parseMillis(fields["expires_at"]),
	}
	if challenge.Expired(s.now()) {
		return nil, ErrChallengeNotFound
	}
	return challenge, nil
}

// Consume compares and deletes atomically on the server
func (s *redisChallengeStore) Consume(ctx context.Context, phone, code string) error {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(phone)}, code).Int()
	if err != nil {
		return fmt.Errorf("failed to consume otp challenge: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 2:
		return ErrCodeMismatch
	default:
		return ErrChallengeNotFound
	}
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
