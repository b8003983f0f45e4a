package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/chat"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) Create(ctx context.Context, c *chat.Chat, participants []chat.Participant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.MemberCount = len(participants)
		if err := tx.Omit("Participants").Create(c).Error; err != nil {
			return err
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		return tx.Create(&chat.Sequence{ChatID: c.ID, LastSeq: 0}).Error
	})
	return mapDBError(err)
}

func (r *PostgresChatRepository) GetByID(ctx context.Context, id uuid.UUID) (chat.Chat, error) {
	var c chat.Chat
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&c).Error
	if err != nil {
		return chat.Chat{}, mapDBError(err)
	}
	return c, nil
}

func (r *PostgresChatRepository) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (chat.Participant, error) {
	var p chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&p).Error
	if err != nil {
		return chat.Participant{}, mapDBError(err)
	}
	return p, nil
}

func (r *PostgresChatRepository) GetActiveParticipants(ctx context.Context, chatID uuid.UUID) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND left_at IS NULL", chatID).
		Order("joined_at ASC").
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *PostgresChatRepository) AddParticipants(ctx context.Context, chatID uuid.UUID, participants []chat.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c chat.Chat
		if err := tx.Where("id = ? AND deleted_at IS NULL", chatID).First(&c).Error; err != nil {
			return err
		}
		if c.Kind == chat.KindDirect {
			// A direct chat holds exactly two participants for life.
			return cipherchat_errors.ErrConflict
		}

		added := 0
		for i := range participants {
			var existing chat.Participant
			err := tx.Where("chat_id = ? AND user_id = ?", chatID, participants[i].UserID).First(&existing).Error
			if err == nil {
				if existing.Active() {
					continue
				}
				// Rejoin: clear left_at, keep the original row.
				res := tx.Model(&chat.Participant{}).
					Where("id = ?", existing.ID).
					Updates(map[string]interface{}{"left_at": nil, "joined_at": time.Now(), "role": chat.RoleMember})
				if res.Error != nil {
					return res.Error
				}
				added++
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
			if err := tx.Create(&participants[i]).Error; err != nil {
				return err
			}
			added++
		}

		if added > 0 {
			if err := tx.Model(&chat.Chat{}).
				Where("id = ?", chatID).
				Update("member_count", gorm.Expr("member_count + ?", added)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapDBError(err)
}

func (r *PostgresChatRepository) RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p chat.Participant
		if err := tx.Where("chat_id = ? AND user_id = ? AND left_at IS NULL", chatID, userID).First(&p).Error; err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&chat.Participant{}).
			Where("id = ?", p.ID).
			Update("left_at", now).Error; err != nil {
			return err
		}
		if err := tx.Model(&chat.Chat{}).
			Where("id = ?", chatID).
			Update("member_count", gorm.Expr("member_count - 1")).Error; err != nil {
			return err
		}

		var remaining []chat.Participant
		if err := tx.Where("chat_id = ? AND left_at IS NULL", chatID).
			Order("joined_at ASC").
			Find(&remaining).Error; err != nil {
			return err
		}

		if len(remaining) == 0 {
			// Clearing the pair key frees it for a future direct chat
			// between the same two users; the unique index ignores
			// NULLs.
			return tx.Model(&chat.Chat{}).
				Where("id = ?", chatID).
				Updates(map[string]interface{}{"deleted_at": now, "direct_key": nil}).Error
		}

		if p.Role == chat.RoleOwner {
			ownerLeft := false
			for _, m := range remaining {
				if m.Role == chat.RoleOwner {
					ownerLeft = true
					break
				}
			}
			if !ownerLeft {
				// Ownership passes to the next-joined active member.
				return tx.Model(&chat.Participant{}).
					Where("id = ?", remaining[0].ID).
					Update("role", chat.RoleOwner).Error
			}
		}
		return nil
	})
	return mapDBError(err)
}
