package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cipherchat/internal/domain/message"
	"cipherchat/internal/repository"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageCache is the cache slice the pipeline needs. The page cache
// stores the newest messages of a chat with their delete flags intact;
// requester-specific visibility is applied after load.
type MessageCache interface {
	GetMessagePage(ctx context.Context, chatID uuid.UUID) (cached []message.Message, ok bool, err error)
	SetMessagePage(ctx context.Context, chatID uuid.UUID, msgs []message.Message) error
	InvalidateChat(ctx context.Context, chatID uuid.UUID) error
}

// MembershipGuard is what the pipeline needs from the chat service.
type MembershipGuard interface {
	AssertActiveMember(ctx context.Context, chatID, userID uuid.UUID) error
}

// MessageConfig tunes the pipeline.
type MessageConfig struct {
	EditWindow   time.Duration
	PageLimitMax int
	// receiptTimeout bounds the detached read-receipt write.
	ReceiptTimeout time.Duration
}

// MessageService is the delivery pipeline: guarded writes, batched
// inserts, a read path with cursor pagination and a per-chat cache
// kept coherent by invalidate-before-ack.
type MessageService struct {
	repo   repository.MessageRepository
	users  repository.UserRepository
	guard  MembershipGuard
	cache  MessageCache
	log    *logger.Logger
	cfg    MessageConfig
	nowFn  func() time.Time
	wakeCh chan struct{} // closed-loop hook for tests; may be nil
}

func NewMessageService(repo repository.MessageRepository, users repository.UserRepository, guard MembershipGuard, cache MessageCache, log *logger.Logger, cfg MessageConfig) *MessageService {
	if cfg.PageLimitMax <= 0 {
		cfg.PageLimitMax = 100
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = 15 * time.Minute
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 5 * time.Second
	}
	return &MessageService{
		repo:  repo,
		users: users,
		guard: guard,
		cache: cache,
		log:   log,
		cfg:   cfg,
		nowFn: time.Now,
	}
}

type SendInput struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Content  []byte
	Header   []byte
	Type     string
	ReplyTo  uuid.NullUUID
}

func (in SendInput) validate() error {
	if in.ChatID == uuid.Nil || in.SenderID == uuid.Nil || len(in.Content) == 0 {
		return cipherchat_errors.ErrInvalidInput
	}
	return nil
}

func (s *MessageService) buildMessage(in SendInput) *message.Message {
	msgType := in.Type
	if msgType == "" {
		msgType = message.TypeText
	}
	return &message.Message{
		ID:        uuid.New(),
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Content:   in.Content,
		Header:    in.Header,
		Type:      msgType,
		ReplyTo:   in.ReplyTo,
		CreatedAt: s.nowFn(),
	}
}

// Send appends one message with immediate durability. Callers that can
// tolerate the coalescing window should go through the Batcher
// instead.
func (s *MessageService) Send(ctx context.Context, in SendInput) (message.Message, error) {
	if err := in.validate(); err != nil {
		return message.Message{}, err
	}
	if err := s.guard.AssertActiveMember(ctx, in.ChatID, in.SenderID); err != nil {
		return message.Message{}, err
	}

	msg := s.buildMessage(in)
	if err := s.repo.Create(ctx, msg); err != nil {
		return message.Message{}, err
	}
	if err := s.invalidate(ctx, in.ChatID); err != nil {
		return message.Message{}, err
	}
	return *msg, nil
}

// SendBatch writes all messages or none. Membership is checked once
// per distinct (chat, sender) pair, not per message.
func (s *MessageService) SendBatch(ctx context.Context, inputs []SendInput) ([]message.Message, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	type pair struct {
		chatID   uuid.UUID
		senderID uuid.UUID
	}
	checked := make(map[pair]bool)
	for _, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, err
		}
		p := pair{in.ChatID, in.SenderID}
		if checked[p] {
			continue
		}
		if err := s.guard.AssertActiveMember(ctx, in.ChatID, in.SenderID); err != nil {
			return nil, err
		}
		checked[p] = true
	}

	msgs := make([]*message.Message, 0, len(inputs))
	for _, in := range inputs {
		msgs = append(msgs, s.buildMessage(in))
	}
	if err := s.repo.CreateBatch(ctx, msgs); err != nil {
		return nil, err
	}

	chats := make(map[uuid.UUID]bool)
	for _, m := range msgs {
		chats[m.ChatID] = true
	}
	for chatID := range chats {
		if err := s.invalidate(ctx, chatID); err != nil {
			return nil, err
		}
	}

	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	return out, nil
}

type ReadOptions struct {
	Limit    int
	BeforeID uuid.NullUUID
	AfterID  uuid.NullUUID
}

type ReadResult struct {
	Messages   []message.Message
	HasMore    bool
	NextCursor uuid.NullUUID
}

// Read returns a page of messages, newest first. The newest page of a
// chat is served from cache when no cursor is given. Read receipts for
// the returned messages are enqueued without blocking the response.
func (s *MessageService) Read(ctx context.Context, chatID, requesterID uuid.UUID, opts ReadOptions) (ReadResult, error) {
	if err := s.guard.AssertActiveMember(ctx, chatID, requesterID); err != nil {
		return ReadResult{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > s.cfg.PageLimitMax {
		limit = s.cfg.PageLimitMax
	}

	var beforeSeq, afterSeq int64
	if opts.BeforeID.Valid {
		m, err := s.repo.GetByID(ctx, opts.BeforeID.UUID)
		if err != nil {
			return ReadResult{}, err
		}
		beforeSeq = m.Seq
	}
	if opts.AfterID.Valid {
		m, err := s.repo.GetByID(ctx, opts.AfterID.UUID)
		if err != nil {
			return ReadResult{}, err
		}
		afterSeq = m.Seq
	}

	var page []message.Message
	var err error
	firstPage := beforeSeq == 0 && afterSeq == 0
	if firstPage {
		page, err = s.newestPage(ctx, chatID)
	} else {
		page, err = s.repo.List(ctx, chatID, s.cfg.PageLimitMax+1, beforeSeq, afterSeq)
	}
	if err != nil {
		return ReadResult{}, err
	}

	// The cursor and hasMore track scanned rows, not visible ones. A
	// row the requester deleted for themselves still advances the
	// cursor; otherwise a run of such rows at the page boundary would
	// end pagination while older visible history remains.
	visible := make([]message.Message, 0, limit)
	scanned := 0
	for _, m := range page {
		if len(visible) == limit {
			break
		}
		scanned++
		if m.VisibleTo(requesterID) {
			visible = append(visible, m)
		}
	}

	hasMore := scanned < len(page) || len(page) > s.cfg.PageLimitMax
	result := ReadResult{Messages: visible, HasMore: hasMore}
	if hasMore && scanned > 0 {
		result.NextCursor = uuid.NullUUID{UUID: page[scanned-1].ID, Valid: true}
	}

	s.enqueueReadReceipts(ctx, requesterID, visible)
	return result, nil
}

// newestPage loads the chat's newest messages, cache-first. The cached
// slice is always PageLimitMax+1 long at most so any clamped limit can
// be served from it.
func (s *MessageService) newestPage(ctx context.Context, chatID uuid.UUID) ([]message.Message, error) {
	if cached, ok, err := s.cache.GetMessagePage(ctx, chatID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn(ctx, "message page cache read failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
	}

	page, err := s.repo.List(ctx, chatID, s.cfg.PageLimitMax+1, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetMessagePage(ctx, chatID, page); err != nil {
		s.log.Warn(ctx, "message page cache write failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
	}
	return page, nil
}

// enqueueReadReceipts records the read marks as a detached best-effort
// task. A receipt failure is logged and never fails the read; this is
// deliberate, not an oversight.
func (s *MessageService) enqueueReadReceipts(ctx context.Context, readerID uuid.UUID, msgs []message.Message) {
	reads := make([]message.MessageRead, 0, len(msgs))
	now := s.nowFn()
	for _, m := range msgs {
		if m.SenderID == readerID {
			continue
		}
		reads = append(reads, message.MessageRead{
			MessageID: m.ID,
			UserID:    readerID,
			ReadAt:    now,
		})
	}
	if len(reads) == 0 {
		return
	}

	wake := s.wakeCh
	go func() {
		detached, cancel := context.WithTimeout(context.Background(), s.cfg.ReceiptTimeout)
		defer cancel()
		if err := s.repo.CreateReads(detached, reads); err != nil {
			s.log.Warn(detached, "read receipt write failed",
				zap.String("reader_id", readerID.String()),
				zap.Int("receipts", len(reads)),
				zap.Error(err))
		}
		if wake != nil {
			close(wake)
		}
	}()
}

type DeleteResult struct {
	DeletedCount int
	FailedCount  int
}

// Delete soft-deletes messages. Non-moderators can only touch their
// own messages; a moderator's forEveryone delete of someone else's
// message is recorded in the moderation log.
func (s *MessageService) Delete(ctx context.Context, ids []uuid.UUID, requesterID uuid.UUID, forEveryone bool) (DeleteResult, error) {
	if len(ids) == 0 {
		return DeleteResult{}, cipherchat_errors.ErrInvalidInput
	}

	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		return DeleteResult{}, err
	}
	moderator := requester.IsModerator() && forEveryone

	targets, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return DeleteResult{}, err
	}

	deleted, err := s.repo.MarkDeleted(ctx, ids, requesterID, forEveryone, !moderator)
	if err != nil {
		return DeleteResult{}, err
	}

	chats := make(map[uuid.UUID]bool)
	for _, m := range targets {
		chats[m.ChatID] = true
		if moderator && m.SenderID != requesterID {
			entry := &message.ModerationLog{
				ID:          uuid.New(),
				ModeratorID: requesterID,
				MessageID:   m.ID,
				ChatID:      m.ChatID,
				Action:      "delete_for_everyone",
				CreatedAt:   s.nowFn(),
			}
			if err := s.repo.CreateModerationLog(ctx, entry); err != nil {
				s.log.Error(ctx, "moderation log write failed",
					zap.String("message_id", m.ID.String()), zap.Error(err))
			}
		}
	}
	for chatID := range chats {
		if err := s.invalidate(ctx, chatID); err != nil {
			return DeleteResult{}, err
		}
	}

	return DeleteResult{
		DeletedCount: int(deleted),
		FailedCount:  len(ids) - int(deleted),
	}, nil
}

// Edit replaces a message's content within the edit window. Only the
// author may edit; deleted messages are terminal and stay deleted.
func (s *MessageService) Edit(ctx context.Context, messageID, requesterID uuid.UUID, content []byte) (message.Message, error) {
	if len(content) == 0 {
		return message.Message{}, cipherchat_errors.ErrInvalidInput
	}

	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.SenderID != requesterID {
		return message.Message{}, cipherchat_errors.ErrForbidden
	}
	if m.DeletedForAllAt.Valid || m.DeletedForSenderAt.Valid {
		return message.Message{}, cipherchat_errors.ErrNotFound
	}
	if s.nowFn().Sub(m.CreatedAt) > s.cfg.EditWindow {
		return message.Message{}, cipherchat_errors.ErrEditWindowExpired
	}

	editedAt := s.nowFn()
	if err := s.repo.UpdateContent(ctx, messageID, content, editedAt); err != nil {
		return message.Message{}, err
	}
	if err := s.invalidate(ctx, m.ChatID); err != nil {
		return message.Message{}, err
	}

	m.Content = content
	m.EditedAt = sql.NullTime{Time: editedAt, Valid: true}
	return m, nil
}

// React sets the requester's reaction on a message.
func (s *MessageService) React(ctx context.Context, messageID, requesterID uuid.UUID, reaction string) error {
	if reaction == "" || len(reaction) > 32 {
		return cipherchat_errors.ErrInvalidInput
	}
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.guard.AssertActiveMember(ctx, m.ChatID, requesterID); err != nil {
		return err
	}
	if err := s.repo.AddReaction(ctx, &message.MessageReaction{
		MessageID: messageID,
		UserID:    requesterID,
		Reaction:  reaction,
		CreatedAt: s.nowFn(),
	}); err != nil {
		return err
	}
	return s.invalidate(ctx, m.ChatID)
}

// Unreact removes the requester's reaction.
func (s *MessageService) Unreact(ctx context.Context, messageID, requesterID uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveReaction(ctx, messageID, requesterID); err != nil {
		if errors.Is(err, cipherchat_errors.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.invalidate(ctx, m.ChatID)
}

// invalidate drops the chat's cache before the mutation acks. A failed
// invalidation fails the operation even though the write is durable:
// the caller retries against an already-applied mutation rather than
// other readers observing a known-stale page.
func (s *MessageService) invalidate(ctx context.Context, chatID uuid.UUID) error {
	if err := s.cache.InvalidateChat(ctx, chatID); err != nil {
		s.log.Error(ctx, "cache invalidation failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
		return cipherchat_errors.ErrServiceUnavailable
	}
	return nil
}
