package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const issuedSession = "vonage_1700000000000_6512345678"

func TestMemorySessionLedger(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemorySessionLedger(24*time.Hour, 0).(*memorySessionLedger)
	l.now = clock.Now

	_, err := l.Lookup(ctx, issuedSession)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, l.Record(ctx, issuedSession, "+6512345678"))
	phone, err := l.Lookup(ctx, issuedSession)
	require.NoError(t, err)
	assert.Equal(t, "+6512345678", phone)

	clock.Advance(24 * time.Hour)
	_, err = l.Lookup(ctx, issuedSession)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionLedger(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisSessionLedger(client, 24*time.Hour)

	_, err := l.Lookup(ctx, issuedSession)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, l.Record(ctx, issuedSession, "+6512345678"))
	assert.Equal(t, 24*time.Hour, mr.TTL("session:"+issuedSession))

	phone, err := l.Lookup(ctx, issuedSession)
	require.NoError(t, err)
	assert.Equal(t, "+6512345678", phone)

	mr.FastForward(24 * time.Hour)
	_, err = l.Lookup(ctx, issuedSession)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	mr.Close()
	_, err = l.Lookup(ctx, issuedSession)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func setupPostgresLedger(t *testing.T) (SessionLedger, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return NewPostgresSessionLedger(db, 24*time.Hour), mock
}

func TestPostgresSessionLedger_Record(t *testing.T) {
	l, mock := setupPostgresLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "otp_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectCommit()

	require.NoError(t, l.Record(context.Background(), issuedSession, "+6512345678"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionLedger_Lookup(t *testing.T) {
	l, mock := setupPostgresLedger(t)
	columns := []string{"id", "session_id", "phone", "expires_at", "created_at"}

	mock.ExpectQuery(`SELECT \* FROM "otp_sessions" WHERE .*session_id = \$1 AND expires_at > \$2`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.New().String(), issuedSession, "+6512345678", time.Now().Add(time.Hour), time.Now()))
	phone, err := l.Lookup(context.Background(), issuedSession)
	require.NoError(t, err)
	assert.Equal(t, "+6512345678", phone)

	mock.ExpectQuery(`SELECT \* FROM "otp_sessions"`).WillReturnRows(sqlmock.NewRows(columns))
	_, err = l.Lookup(context.Background(), "vonage_1700000000000_6599999999")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
