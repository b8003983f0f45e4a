package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/user"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	res := r.db.WithContext(ctx).Create(u)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		return user.User{}, mapDBError(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err != nil {
		return user.User{}, mapDBError(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		return user.User{}, mapDBError(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, u user.User) error {
	u.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Save(&u)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"two_factor_secret":  secret,
			"two_factor_enabled": enabled,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status != user.StatusActive && status != user.StatusDisabled {
		return cipherchat_errors.ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}
