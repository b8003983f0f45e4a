package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/chat"
	"cipherchat/internal/domain/keys"
	"cipherchat/internal/domain/message"
	"cipherchat/internal/domain/user"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByUsername(ctx context.Context, username string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Update(ctx context.Context, u user.User) error
	SetTwoFactor(ctx context.Context, id uuid.UUID, secret string, enabled bool) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

type DeviceRepository interface {
	Create(ctx context.Context, d *user.Device) error
	GetByFingerprint(ctx context.Context, fingerprint string) (user.Device, error)
	GetUserDevices(ctx context.Context, userID uuid.UUID) ([]user.Device, error)
	MarkTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) error
	TouchLastSeen(ctx context.Context, fingerprint string) error
}

type KeyRepository interface {
	// RegisterIdentity replaces the user's key material in one
	// transaction: identity key upserted, previous signed prekeys
	// retired, unconsumed one-time prekeys from the previous
	// registration dropped.
	RegisterIdentity(ctx context.Context, ik *keys.IdentityKey, spk *keys.SignedPreKey, otpks []keys.OneTimePreKey) error
	GetIdentityKey(ctx context.Context, userID uuid.UUID) (keys.IdentityKey, error)
	GetActiveSignedPreKey(ctx context.Context, userID uuid.UUID) (keys.SignedPreKey, error)
	RotateSignedPreKey(ctx context.Context, userID uuid.UUID, newKey *keys.SignedPreKey) error
	// ConsumeOneTimePreKey atomically claims one unconsumed prekey.
	// Returns ErrNotFound when the pool is exhausted.
	ConsumeOneTimePreKey(ctx context.Context, userID, consumedBy uuid.UUID) (keys.OneTimePreKey, error)
	UploadOneTimePreKeys(ctx context.Context, otpks []keys.OneTimePreKey) error
	AvailablePreKeyCount(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteConsumedPreKeys(ctx context.Context, olderThan time.Time) (int64, error)
}

type ChatRepository interface {
	// Create inserts the chat, its participants and its sequence row
	// in one transaction. A direct-key unique violation maps to
	// ErrAlreadyExists.
	Create(ctx context.Context, c *chat.Chat, participants []chat.Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (chat.Chat, error)
	GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (chat.Participant, error)
	GetActiveParticipants(ctx context.Context, chatID uuid.UUID) ([]chat.Participant, error)
	AddParticipants(ctx context.Context, chatID uuid.UUID, participants []chat.Participant) error
	// RemoveParticipant sets left_at, decrements the member count,
	// hands ownership to the next-joined active member when the sole
	// owner leaves, and soft-deletes the chat when nobody remains.
	RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error
}

type MessageRepository interface {
	// Create allocates the next per-chat seq, inserts the message and
	// advances the chat's last-message pointer in one transaction.
	Create(ctx context.Context, m *message.Message) error
	// CreateBatch inserts all messages or none. Seq ranges are
	// allocated per referenced chat inside the same transaction.
	CreateBatch(ctx context.Context, msgs []*message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]message.Message, error)
	// List returns messages ordered by seq descending. For-everyone
	// deletes are excluded here; per-sender visibility is applied by
	// the caller.
	List(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq, afterSeq int64) ([]message.Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content []byte, editedAt time.Time) error
	// MarkDeleted soft-deletes the given ids and returns the number of
	// rows actually updated. When restrictToSender is set only rows
	// authored by requesterID are touched.
	MarkDeleted(ctx context.Context, ids []uuid.UUID, requesterID uuid.UUID, forEveryone, restrictToSender bool) (int64, error)
	CreateReads(ctx context.Context, reads []message.MessageRead) error
	AddReaction(ctx context.Context, r *message.MessageReaction) error
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error
	CreateModerationLog(ctx context.Context, entry *message.ModerationLog) error
}
