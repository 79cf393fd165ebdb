package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portal-auth/internal/apps/otp/models"
	"portal-auth/pkg/secure"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postgresChallengeStore keeps challenges in the otp_challenges table, one row per provider+phone
type postgresChallengeStore struct {
	db       *gorm.DB
	provider models.ProviderName
	ttl      time.Duration
	sealer   *secure.Sealer
	now      func() time.Time
}

// NewPostgresChallengeStore creates a ChallengeStore backed by Postgres.
// Codes are sealed with sealer before they are written; a nil sealer stores them as-is.
func NewPostgresChallengeStore(db *gorm.DB, provider models.ProviderName, ttl time.Duration, sealer *secure.Sealer) ChallengeStore {
	return &postgresChallengeStore{
		db:       db,
		provider: provider,
		ttl:      ttl,
		sealer:   sealer,
		now:      time.Now,
	}
}

// Put creates or updates the challenge for a phone number
func (r *postgresChallengeStore) Put(ctx context.Context, phone, code string) (*models.OtpChallenge, error) {
	sealed, err := r.sealer.EncryptString(code)
	if err != nil {
		return nil, fmt.Errorf("failed to seal otp code: %w", err)
	}

	now := r.now().UTC()
	record := models.OTPChallengeRecord{
		Provider:  string(r.provider),
		Phone:     phone,
		Value:     sealed,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "issued_at", "expires_at", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store otp challenge: %w", err)
	}

	return &models.OtpChallenge{
		Provider:  r.provider,
		Phone:     phone,
		Code:      code,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Get retrieves the live challenge for a phone number
func (r *postgresChallengeStore) Get(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	var record models.OTPChallengeRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND phone = ?", string(r.provider), phone).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to read otp challenge: %w", err)
	}
	return r.toChallenge(&record)
}

// Consume locks the row, compares and deletes it inside one transaction
func (r *postgresChallengeStore) Consume(ctx context.Context, phone, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.OTPChallengeRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider = ? AND phone = ?", string(r.provider), phone).
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChallengeNotFound
			}
			return fmt.Errorf("failed to read otp challenge: %w", err)
		}

		challenge, err := r.toChallenge(&record)
		if err != nil {
			return err
		}
		if !codesEqual(code, challenge.Code) {
			return ErrCodeMismatch
		}
		if err := tx.Delete(&models.OTPChallengeRecord{}, "id = ?", record.ID).Error; err != nil {
			return fmt.Errorf("failed to delete otp challenge: %w", err)
		}
		return nil
	})
}

// toChallenge unseals a row; expired rows read as absent
func (r *postgresChallengeStore) toChallenge(record *models.OTPChallengeRecord) (*models.OtpChallenge, error) {
	challenge := &models.OtpChallenge{
		Provider:  r.provider,
		Phone:     record.Phone,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}
	if challenge.Expired(r.now()) {
		return nil, ErrChallengeNotFound
	}
	code, err := r.sealer.DecryptString(record.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal otp code: %w", err)
	}
	challenge.Code = code
	return challenge, nil
}
