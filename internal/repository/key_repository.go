package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/keys"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresKeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) KeyRepository {
	return &PostgresKeyRepository{db: db}
}

func (r *PostgresKeyRepository) RegisterIdentity(ctx context.Context, ik *keys.IdentityKey, spk *keys.SignedPreKey, otpks []keys.OneTimePreKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-registration replaces everything: old identity key goes,
		// active signed prekeys are retired, unconsumed prekeys from
		// the previous registration are dropped.
		if err := tx.Delete(&keys.IdentityKey{}, "user_id = ?", ik.UserID).Error; err != nil {
			return err
		}
		if err := tx.Model(&keys.SignedPreKey{}).
			Where("user_id = ? AND is_active = true", ik.UserID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Delete(&keys.OneTimePreKey{}, "user_id = ? AND consumed_at IS NULL", ik.UserID).Error; err != nil {
			return err
		}

		if err := tx.Create(ik).Error; err != nil {
			return err
		}
		if err := tx.Create(spk).Error; err != nil {
			return err
		}
		if len(otpks) > 0 {
			if err := tx.Create(&otpks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapDBError(err)
}

func (r *PostgresKeyRepository) GetIdentityKey(ctx context.Context, userID uuid.UUID) (keys.IdentityKey, error) {
	var ik keys.IdentityKey
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&ik).Error
	if err != nil {
		return keys.IdentityKey{}, mapDBError(err)
	}
	return ik, nil
}

func (r *PostgresKeyRepository) GetActiveSignedPreKey(ctx context.Context, userID uuid.UUID) (keys.SignedPreKey, error) {
	var spk keys.SignedPreKey
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = true", userID).
		Order("created_at DESC").
		First(&spk).Error
	if err != nil {
		return keys.SignedPreKey{}, mapDBError(err)
	}
	return spk, nil
}

func (r *PostgresKeyRepository) RotateSignedPreKey(ctx context.Context, userID uuid.UUID, newKey *keys.SignedPreKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Retired keys stay in the table for audit.
		if err := tx.Model(&keys.SignedPreKey{}).
			Where("user_id = ? AND is_active = true", userID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(newKey).Error
	})
	return mapDBError(err)
}

func (r *PostgresKeyRepository) ConsumeOneTimePreKey(ctx context.Context, userID, consumedBy uuid.UUID) (keys.OneTimePreKey, error) {
	var key keys.OneTimePreKey

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SKIP LOCKED makes concurrent consumers claim distinct rows
		// instead of queueing on the same one.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("user_id = ? AND consumed_at IS NULL", userID).
			Order("uploaded_at ASC").
			First(&key).Error
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&keys.OneTimePreKey{}).
			Where("id = ? AND consumed_at IS NULL", key.ID).
			Updates(map[string]interface{}{
				"consumed_at": now,
				"consumed_by": consumedBy,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return cipherchat_errors.ErrConflict
		}
		key.ConsumedAt.Time = now
		key.ConsumedAt.Valid = true
		key.ConsumedBy = uuid.NullUUID{UUID: consumedBy, Valid: true}
		return nil
	})
	if err != nil {
		return keys.OneTimePreKey{}, mapDBError(err)
	}
	return key, nil
}

func (r *PostgresKeyRepository) UploadOneTimePreKeys(ctx context.Context, otpks []keys.OneTimePreKey) error {
	if len(otpks) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Create(&otpks)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}

func (r *PostgresKeyRepository) AvailablePreKeyCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&keys.OneTimePreKey{}).
		Where("user_id = ? AND consumed_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresKeyRepository) DeleteConsumedPreKeys(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Delete(&keys.OneTimePreKey{}, "consumed_at IS NOT NULL AND consumed_at < ?", olderThan)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
