package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/user"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresDeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) Create(ctx context.Context, d *user.Device) error {
	res := r.db.WithContext(ctx).Create(d)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByFingerprint(ctx context.Context, fingerprint string) (user.Device, error) {
	var d user.Device
	err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&d).Error
	if err != nil {
		return user.Device{}, mapDBError(err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) GetUserDevices(ctx context.Context, userID uuid.UUID) ([]user.Device, error) {
	var devices []user.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("registered_at ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *PostgresDeviceRepository) MarkTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	res := r.db.WithContext(ctx).
		Model(&user.Device{}).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		Update("trusted", true)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) TouchLastSeen(ctx context.Context, fingerprint string) error {
	res := r.db.WithContext(ctx).
		Model(&user.Device{}).
		Where("fingerprint = ?", fingerprint).
		Update("last_seen_at", time.Now())
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}
