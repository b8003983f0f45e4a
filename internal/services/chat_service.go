package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cipherchat/internal/domain/chat"
	"cipherchat/internal/repository"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatCache is the slice of the cache collaborator the chat and
// message services need. Absence of a cache is a valid degraded mode.
type ChatCache interface {
	GetChat(ctx context.Context, chatID uuid.UUID) (*chat.Chat, error)
	SetChat(ctx context.Context, c *chat.Chat) error
	InvalidateChat(ctx context.Context, chatID uuid.UUID) error
}

// ChatService owns chats, participants and the membership rules
// every chat-scoped operation rests on.
type ChatService struct {
	repo  repository.ChatRepository
	cache ChatCache
	log   *logger.Logger
}

func NewChatService(repo repository.ChatRepository, cache ChatCache, log *logger.Logger) *ChatService {
	return &ChatService{repo: repo, cache: cache, log: log}
}

// directKey is the unordered pair key whose unique index dedupes
// concurrent direct-chat creation.
func directKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// CreateDirect creates the direct chat for the unordered pair {a, b}.
// Two users racing to create it both hit the same direct key; exactly
// one insert wins and the loser sees ErrAlreadyExists.
func (s *ChatService) CreateDirect(ctx context.Context, a, b uuid.UUID) (chat.Chat, error) {
	if a == b || a == uuid.Nil || b == uuid.Nil {
		return chat.Chat{}, cipherchat_errors.ErrInvalidInput
	}

	now := time.Now()
	c := &chat.Chat{
		ID:        uuid.New(),
		Kind:      chat.KindDirect,
		DirectKey: toNullString(directKey(a, b)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := []chat.Participant{
		{ID: uuid.New(), ChatID: c.ID, UserID: a, Role: chat.RoleMember, JoinedAt: now},
		{ID: uuid.New(), ChatID: c.ID, UserID: b, Role: chat.RoleMember, JoinedAt: now},
	}

	if err := s.repo.Create(ctx, c, participants); err != nil {
		return chat.Chat{}, err
	}
	return *c, nil
}

// CreateGroup creates a group or channel with the creator as owner.
// Chat, participants and the denormalized member count land in one
// transaction.
func (s *ChatService) CreateGroup(ctx context.Context, creator uuid.UUID, kind, title string, memberIDs []uuid.UUID) (chat.Chat, error) {
	if kind != chat.KindGroup && kind != chat.KindChannel {
		return chat.Chat{}, cipherchat_errors.ErrInvalidInput
	}
	if strings.TrimSpace(title) == "" || creator == uuid.Nil {
		return chat.Chat{}, cipherchat_errors.ErrInvalidInput
	}

	now := time.Now()
	c := &chat.Chat{
		ID:        uuid.New(),
		Kind:      kind,
		Title:     toNullString(title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	participants := []chat.Participant{
		{ID: uuid.New(), ChatID: c.ID, UserID: creator, Role: chat.RoleOwner, JoinedAt: now},
	}
	seen := map[uuid.UUID]bool{creator: true}
	for _, id := range memberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, chat.Participant{
			ID: uuid.New(), ChatID: c.ID, UserID: id, Role: chat.RoleMember, JoinedAt: now,
		})
	}

	if err := s.repo.Create(ctx, c, participants); err != nil {
		return chat.Chat{}, err
	}
	s.log.Info(ctx, "chat created",
		zap.String("chat_id", c.ID.String()),
		zap.String("kind", kind),
		zap.Int("members", len(participants)))
	return *c, nil
}

// AddParticipants adds users to a group/channel. The actor must be an
// active owner or admin.
func (s *ChatService) AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) error {
	actor, err := s.activeParticipant(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != chat.RoleOwner && actor.Role != chat.RoleAdmin {
		return cipherchat_errors.ErrForbidden
	}

	now := time.Now()
	participants := make([]chat.Participant, 0, len(userIDs))
	seen := map[uuid.UUID]bool{}
	for _, id := range userIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, chat.Participant{
			ID: uuid.New(), ChatID: chatID, UserID: id, Role: chat.RoleMember, JoinedAt: now,
		})
	}
	if len(participants) == 0 {
		return cipherchat_errors.ErrInvalidInput
	}

	if err := s.repo.AddParticipants(ctx, chatID, participants); err != nil {
		return err
	}
	return s.invalidate(ctx, chatID)
}

// RemoveParticipant removes a member. Anyone may remove themselves;
// removing someone else takes owner or admin rights. Owner handoff and
// empty-chat soft deletion happen inside the repository transaction.
func (s *ChatService) RemoveParticipant(ctx context.Context, chatID, actorID, userID uuid.UUID) error {
	if actorID != userID {
		actor, err := s.activeParticipant(ctx, chatID, actorID)
		if err != nil {
			return err
		}
		if actor.Role != chat.RoleOwner && actor.Role != chat.RoleAdmin {
			return cipherchat_errors.ErrForbidden
		}
	}

	if err := s.repo.RemoveParticipant(ctx, chatID, userID); err != nil {
		if errors.Is(err, cipherchat_errors.ErrNotFound) {
			return cipherchat_errors.ErrNotAMember
		}
		return err
	}
	return s.invalidate(ctx, chatID)
}

// AssertActiveMember is the guard preceding every chat-scoped read or
// write in the system.
func (s *ChatService) AssertActiveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.activeParticipant(ctx, chatID, userID)
	return err
}

func (s *ChatService) activeParticipant(ctx context.Context, chatID, userID uuid.UUID) (chat.Participant, error) {
	p, err := s.repo.GetParticipant(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, cipherchat_errors.ErrNotFound) {
			return chat.Participant{}, cipherchat_errors.ErrNotAMember
		}
		return chat.Participant{}, err
	}
	if !p.Active() {
		return chat.Participant{}, cipherchat_errors.ErrNotAMember
	}
	return p, nil
}

// GetChat returns chat metadata, cache-first.
func (s *ChatService) GetChat(ctx context.Context, chatID uuid.UUID) (chat.Chat, error) {
	if cached, err := s.cache.GetChat(ctx, chatID); err == nil && cached != nil {
		return *cached, nil
	}
	c, err := s.repo.GetByID(ctx, chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	if err := s.cache.SetChat(ctx, &c); err != nil {
		s.log.Warn(ctx, "chat cache write failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
	}
	return c, nil
}

// Participants lists active members.
func (s *ChatService) Participants(ctx context.Context, chatID, requesterID uuid.UUID) ([]chat.Participant, error) {
	if err := s.AssertActiveMember(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return s.repo.GetActiveParticipants(ctx, chatID)
}

// invalidate drops the chat's cache entries. Mutations call this
// before reporting success, so readers never see an entry known stale.
func (s *ChatService) invalidate(ctx context.Context, chatID uuid.UUID) error {
	if err := s.cache.InvalidateChat(ctx, chatID); err != nil {
		s.log.Error(ctx, "cache invalidation failed",
			zap.String("chat_id", chatID.String()), zap.Error(err))
		return cipherchat_errors.ErrServiceUnavailable
	}
	return nil
}
