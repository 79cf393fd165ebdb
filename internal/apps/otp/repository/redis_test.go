package repository

import (
	"context"
	"testing"
	"time"

	"portal-auth/internal/apps/otp/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (ChallengeStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisChallengeStore(client, models.ProviderVonage, 5*time.Minute), mr
}

func TestRedisStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s, mr := setupRedisStore(t)

	_, err := s.Put(ctx, "+6512345678", "123456")
	require.NoError(t, err)

	assert.True(t, mr.Exists("vonage:otp_+6512345678"))
	assert.Equal(t, "123456", mr.HGet("vonage:otp_+6512345678", "code"))
	assert.Equal(t, 5*time.Minute, mr.TTL("vonage:otp_+6512345678"))

	got, err := s.Get(ctx, "+6512345678")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, 5*time.Minute, got.ExpiresAt.Sub(got.IssuedAt))
}

func TestRedisStore_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s, mr := setupRedisStore(t)
	_, err := s.Put(ctx, "+6512345678", "123456")
	require.NoError(t, err)

	require.NoError(t, s.Consume(ctx, "+6512345678", "123456"))
	assert.False(t, mr.Exists("vonage:otp_+6512345678"))
	assert.ErrorIs(t, s.Consume(ctx, "+6512345678", "123456"), ErrChallengeNotFound)
}

func TestRedisStore_MismatchKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	s, _ := setupRedisStore(t)
	_, err := s.Put(ctx, "+6512345678", "123456")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Consume(ctx, "+6512345678", "654321"), ErrCodeMismatch)
	assert.NoError(t, s.Consume(ctx, "+6512345678", "123456"))
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := setupRedisStore(t)
	_, err := s.Put(ctx, "+6512345678", "123456")
	require.NoError(t, err)

	mr.FastForward(5 * time.Minute)

	_, err = s.Get(ctx, "+6512345678")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.ErrorIs(t, s.Consume(ctx, "+6512345678", "123456"), ErrChallengeNotFound)
}

func TestRedisStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := setupRedisStore(t)
	_, _ = s.Put(ctx, "+6512345678", "111111")
	_, _ = s.Put(ctx, "+6512345678", "222222")

	got, err := s.Get(ctx, "+6512345678")
	require.NoError(t, err)
	assert.Equal(t, "222222", got.Code)
}

func TestRedisStore_ProvidersAreNamespaced(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	vonage := NewRedisChallengeStore(client, models.ProviderVonage, time.Minute)
	twilio := NewRedisChallengeStore(client, models.ProviderTwilio, time.Minute)

	_, _ = vonage.Put(ctx, "+6512345678", "111111")
	_, err := twilio.Get(ctx, "+6512345678")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedisStore_ServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := setupRedisStore(t)
	mr.Close()

	_, err := s.Put(ctx, "+6512345678", "123456")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrChallengeNotFound)
}
