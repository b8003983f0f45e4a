package repository

import (
	"context"
	"time"

	"cipherchat/internal/domain/chat"
	"cipherchat/internal/domain/message"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

// nextSeq advances the chat's sequence row by n and returns the last
// value of the reserved range. Runs inside the caller's transaction so
// the reservation commits or rolls back with the insert.
func nextSeq(tx *gorm.DB, chatID uuid.UUID, n int64) (int64, error) {
	var last int64
	err := tx.Raw(
		"UPDATE chat_sequences SET last_seq = last_seq + ? WHERE chat_id = ? RETURNING last_seq",
		n, chatID,
	).Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if last == 0 {
		return 0, cipherchat_errors.ErrNotFound
	}
	return last, nil
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSeq(tx, m.ChatID, 1)
		if err != nil {
			return err
		}
		m.Seq = seq
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&chat.Chat{}).
			Where("id = ?", m.ChatID).
			Updates(map[string]interface{}{
				"last_message_id": m.ID,
				"updated_at":      time.Now(),
			}).Error
	})
	return mapDBError(err)
}

func (r *PostgresMessageRepository) CreateBatch(ctx context.Context, msgs []*message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Reserve one seq range per referenced chat, then write the
		// whole batch with a single multi-row insert.
		perChat := make(map[uuid.UUID][]*message.Message)
		for _, m := range msgs {
			perChat[m.ChatID] = append(perChat[m.ChatID], m)
		}

		for chatID, chatMsgs := range perChat {
			last, err := nextSeq(tx, chatID, int64(len(chatMsgs)))
			if err != nil {
				return err
			}
			first := last - int64(len(chatMsgs)) + 1
			for i, m := range chatMsgs {
				m.Seq = first + int64(i)
			}
		}

		rows := make([]message.Message, 0, len(msgs))
		for _, m := range msgs {
			rows = append(rows, *m)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}

		for chatID, chatMsgs := range perChat {
			newest := chatMsgs[len(chatMsgs)-1]
			if err := tx.Model(&chat.Chat{}).
				Where("id = ?", chatID).
				Updates(map[string]interface{}{
					"last_message_id": newest.ID,
					"updated_at":      time.Now(),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapDBError(err)
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return message.Message{}, mapDBError(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]message.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []message.Message
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) List(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq, afterSeq int64) ([]message.Message, error) {
	q := r.db.WithContext(ctx).
		Where("chat_id = ? AND deleted_for_all_at IS NULL", chatID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}
	if afterSeq > 0 {
		q = q.Where("seq > ?", afterSeq)
	}

	var msgs []message.Message
	err := q.Order("seq DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content []byte, editedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND deleted_for_all_at IS NULL", id).
		Updates(map[string]interface{}{
			"content":   content,
			"edited_at": editedAt,
		})
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) MarkDeleted(ctx context.Context, ids []uuid.UUID, requesterID uuid.UUID, forEveryone, restrictToSender bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	column := "deleted_for_sender_at"
	if forEveryone {
		column = "deleted_for_all_at"
	}

	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id IN ?", ids).
		Where(column + " IS NULL")
	if restrictToSender {
		q = q.Where("sender_id = ?", requesterID)
	}

	res := q.Update(column, time.Now())
	if res.Error != nil {
		return 0, mapDBError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PostgresMessageRepository) CreateReads(ctx context.Context, reads []message.MessageRead) error {
	if len(reads) == 0 {
		return nil
	}
	// Re-reading a message is a no-op; the first timestamp wins.
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&reads)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}

func (r *PostgresMessageRepository) AddReaction(ctx context.Context, reaction *message.MessageReaction) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(reaction)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}

func (r *PostgresMessageRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Delete(&message.MessageReaction{}, "message_id = ? AND user_id = ?", messageID, userID)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	if res.RowsAffected == 0 {
		return cipherchat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) CreateModerationLog(ctx context.Context, entry *message.ModerationLog) error {
	res := r.db.WithContext(ctx).Create(entry)
	if res.Error != nil {
		return mapDBError(res.Error)
	}
	return nil
}
