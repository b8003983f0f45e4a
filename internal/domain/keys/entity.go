package keys

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// IdentityKey represents the identity_keys table. One active row per
// user; replaced only on explicit re-registration.
type IdentityKey struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	PublicKey []byte    `gorm:"not null"`
	CreatedAt time.Time
}

// SignedPreKey represents the signed_prekeys table. Exactly one row is
// active per user; superseded rows are retired but kept for audit.
type SignedPreKey struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	KeyID     uint32    `gorm:"not null"`
	PublicKey []byte    `gorm:"not null"`
	Signature []byte    `gorm:"not null"`
	IsActive  bool      `gorm:"default:true"`
	CreatedAt time.Time
}

// OneTimePreKey represents the onetime_prekeys table. Each row is
// handed out at most once; ConsumedAt marks it spent.
type OneTimePreKey struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	KeyID      uint32    `gorm:"not null"`
	PublicKey  []byte    `gorm:"not null"`
	UploadedAt time.Time
	ConsumedAt sql.NullTime
	ConsumedBy uuid.NullUUID `gorm:"type:uuid"`
}

// PrekeyBundle is what a new session initiator fetches. OneTimePreKey
// is nil when the pool is exhausted; that is a valid state, not an
// error.
type PrekeyBundle struct {
	IdentityKey   []byte
	SignedPreKey  SignedPreKey
	OneTimePreKey *OneTimePreKey
}

func (IdentityKey) TableName() string {
	return "identity_keys"
}

func (SignedPreKey) TableName() string {
	return "signed_prekeys"
}

func (OneTimePreKey) TableName() string {
	return "onetime_prekeys"
}
