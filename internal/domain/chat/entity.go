package chat

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Chat kinds
const (
	KindDirect  = "DIRECT"
	KindGroup   = "GROUP"
	KindChannel = "CHANNEL"
)

// Participant roles
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Chat represents the chats table. DirectKey is the sorted pair of
// member ids for direct chats; its unique index is what makes
// concurrent duplicate creation impossible.
type Chat struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind          string    `gorm:"not null"`
	Title         sql.NullString
	DirectKey     sql.NullString `gorm:"uniqueIndex"`
	MemberCount   int            `gorm:"not null;default:0"`
	LastMessageID uuid.NullUUID  `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     sql.NullTime

	Participants []Participant `gorm:"foreignKey:ChatID"`
}

// Participant represents the chat_participants table. LeftAt is null
// while the membership is active; (chat_id, user_id) is unique.
type Participant struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chat_user"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chat_user"`
	Role     string    `gorm:"not null;default:MEMBER"`
	JoinedAt time.Time
	LeftAt   sql.NullTime
}

// Sequence represents the chat_sequences table, one row per chat. It
// is the source of the per-chat total order of messages.
type Sequence struct {
	ChatID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	LastSeq int64     `gorm:"not null;default:0"`
}

func (Chat) TableName() string {
	return "chats"
}

func (Participant) TableName() string {
	return "chat_participants"
}

func (Sequence) TableName() string {
	return "chat_sequences"
}

func (p Participant) Active() bool {
	return !p.LeftAt.Valid
}
