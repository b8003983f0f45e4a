package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status values for users. Accounts are never hard-deleted.
const (
	StatusActive   = "ACTIVE"
	StatusDisabled = "DISABLED"
)

// Role values. Moderators may delete other users' messages for everyone.
const (
	RoleUser      = "USER"
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// User represents the users table
type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username         string    `gorm:"uniqueIndex;not null"`
	Email            sql.NullString
	PasswordHash     string `gorm:"not null"`
	Role             string `gorm:"default:USER"`
	Status           string `gorm:"default:ACTIVE"`
	TwoFactorSecret  sql.NullString
	TwoFactorEnabled bool `gorm:"default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Device represents the devices table. The fingerprint is a stable
// hash over the device's verified public key, unique across all users.
type Device struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Fingerprint  string    `gorm:"uniqueIndex;not null"`
	Trusted      bool      `gorm:"default:false"`
	RegisteredIP string
	UserAgent    string
	RegisteredAt time.Time
	LastSeenAt   sql.NullTime
}

func (User) TableName() string {
	return "users"
}

func (Device) TableName() string {
	return "devices"
}

func (u User) IsActive() bool {
	return u.Status == StatusActive
}

func (u User) IsModerator() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}
