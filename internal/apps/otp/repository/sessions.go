package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portal-auth/internal/apps/otp/models"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound means the session id was never issued here or has expired
var ErrSessionNotFound = errors.New("session not found")

// SessionLedger remembers the session ids the gateway synthesized on verify,
// so only ids it actually issued are accepted later.
type SessionLedger interface {
	// Record stores the phone a session id was issued for.
	Record(ctx context.Context, sessionID, phone string) error
	// Lookup returns the phone of a live session id or ErrSessionNotFound.
	Lookup(ctx context.Context, sessionID string) (string, error)
}

type sessionEntry struct {
	phone     string
	expiresAt time.Time
}

// memorySessionLedger keeps issued ids in a process-local expiring LRU
type memorySessionLedger struct {
	cache *lru.LRU[string, sessionEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemorySessionLedger creates a SessionLedger backed by an expiring LRU.
// maxEntries <= 0 uses a default capacity.
func NewMemorySessionLedger(ttl time.Duration, maxEntries int) SessionLedger {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &memorySessionLedger{
		cache: lru.NewLRU[string, sessionEntry](maxEntries, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (l *memorySessionLedger) Record(ctx context.Context, sessionID, phone string) error {
	l.cache.Add(sessionID, sessionEntry{phone: phone, expiresAt: l.now().Add(l.ttl)})
	return nil
}

func (l *memorySessionLedger) Lookup(ctx context.Context, sessionID string) (string, error) {
	entry, ok := l.cache.Get(sessionID)
	if !ok || !l.now().Before(entry.expiresAt) {
		return "", ErrSessionNotFound
	}
	return entry.phone, nil
}

// redisSessionLedger keeps issued ids as plain keys under session:<id> with a key TTL
type redisSessionLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSessionLedger creates a SessionLedger backed by Redis
func NewRedisSessionLedger(client redis.UniversalClient, ttl time.Duration) SessionLedger {
	return &redisSessionLedger{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (l *redisSessionLedger) Record(ctx context.Context, sessionID, phone string) error {
	if err := l.client.Set(ctx, sessionKey(sessionID), phone, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

func (l *redisSessionLedger) Lookup(ctx context.Context, sessionID string) (string, error) {
	phone, err := l.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return phone, nil
}

// postgresSessionLedger keeps issued ids in the otp_sessions table
type postgresSessionLedger struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresSessionLedger creates a SessionLedger backed by Postgres
func NewPostgresSessionLedger(db *gorm.DB, ttl time.Duration) SessionLedger {
	return &postgresSessionLedger{db: db, ttl: ttl, now: time.Now}
}

func (l *postgresSessionLedger) Record(ctx context.Context, sessionID, phone string) error {
	record := models.SessionRecord{
		SessionID: sessionID,
		Phone:     phone,
		ExpiresAt: l.now().UTC().Add(l.ttl),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"phone", "expires_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

func (l *postgresSessionLedger) Lookup(ctx context.Context, sessionID string) (string, error) {
	var record models.SessionRecord
	err := l.db.WithContext(ctx).
		Where("session_id = ? AND expires_at > ?", sessionID, l.now().UTC()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return record.Phone, nil
}
