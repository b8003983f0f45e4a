package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText   = "TEXT"
	TypeMedia  = "MEDIA"
	TypeSystem = "SYSTEM"
)

// Message represents the messages table. Content and Header are opaque
// ciphertext; the server never interprets them. Seq is assigned from
// the chat's sequence row at insert time and is never reused, so
// (chat_id, seq) is a total order.
type Message struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID   uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_seq"`
	Seq      int64     `gorm:"not null;index:idx_chat_seq"`
	SenderID uuid.UUID `gorm:"type:uuid;not null"`
	Content  []byte    `gorm:"not null"`
	Header   []byte
	Type     string        `gorm:"default:TEXT"`
	ReplyTo  uuid.NullUUID `gorm:"type:uuid"`
	ThreadID uuid.NullUUID `gorm:"type:uuid"`

	CreatedAt          time.Time
	EditedAt           sql.NullTime
	DeletedForAllAt    sql.NullTime
	DeletedForSenderAt sql.NullTime
}

// MessageReaction represents the message_reactions table.
type MessageReaction struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Reaction  string    `gorm:"not null"`
	CreatedAt time.Time
}

// MessageRead represents the message_reads table.
type MessageRead struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReadAt    time.Time
}

// ModerationLog records forEveryone deletions performed by a
// moderator on messages they did not author.
type ModerationLog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModeratorID uuid.UUID `gorm:"type:uuid;not null"`
	MessageID   uuid.UUID `gorm:"type:uuid;not null"`
	ChatID      uuid.UUID `gorm:"type:uuid;not null"`
	Action      string    `gorm:"not null"`
	CreatedAt   time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (MessageReaction) TableName() string {
	return "message_reactions"
}

func (MessageRead) TableName() string {
	return "message_reads"
}

func (ModerationLog) TableName() string {
	return "moderation_logs"
}

// VisibleTo reports whether the message should appear in requester's
// reads. For-everyone deletes hide it from all participants; a
// for-sender delete hides it only from the sender who deleted it.
func (m Message) VisibleTo(requesterID uuid.UUID) bool {
	if m.DeletedForAllAt.Valid {
		return false
	}
	if m.DeletedForSenderAt.Valid && m.SenderID == requesterID {
		return false
	}
	return true
}
