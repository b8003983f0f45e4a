package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"cipherchat/internal/domain/chat"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatRepo struct {
	mu           sync.Mutex
	chats        map[uuid.UUID]chat.Chat
	participants map[uuid.UUID][]chat.Participant
	directKeys   map[string]uuid.UUID
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		chats:        make(map[uuid.UUID]chat.Chat),
		participants: make(map[uuid.UUID][]chat.Participant),
		directKeys:   make(map[string]uuid.UUID),
	}
}

func (f *fakeChatRepo) Create(_ context.Context, c *chat.Chat, participants []chat.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.DirectKey.Valid {
		if _, taken := f.directKeys[c.DirectKey.String]; taken {
			return cipherchat_errors.ErrAlreadyExists
		}
		f.directKeys[c.DirectKey.String] = c.ID
	}
	c.MemberCount = len(participants)
	f.chats[c.ID] = *c
	f.participants[c.ID] = append([]chat.Participant(nil), participants...)
	return nil
}

func (f *fakeChatRepo) GetByID(_ context.Context, id uuid.UUID) (chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok || c.DeletedAt.Valid {
		return chat.Chat{}, cipherchat_errors.ErrNotFound
	}
	return c, nil
}

func (f *fakeChatRepo) GetParticipant(_ context.Context, chatID, userID uuid.UUID) (chat.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[chatID] {
		if p.UserID == userID {
			return p, nil
		}
	}
	return chat.Participant{}, cipherchat_errors.ErrNotFound
}

func (f *fakeChatRepo) GetActiveParticipants(_ context.Context, chatID uuid.UUID) ([]chat.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Participant
	for _, p := range f.participants[chatID] {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (f *fakeChatRepo) AddParticipants(_ context.Context, chatID uuid.UUID, participants []chat.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return cipherchat_errors.ErrNotFound
	}
	if c.Kind == chat.KindDirect {
		return cipherchat_errors.ErrConflict
	}
	existing := f.participants[chatID]
	added := 0
outer:
	for _, p := range participants {
		for i := range existing {
			if existing[i].UserID == p.UserID {
				if !existing[i].Active() {
					existing[i].LeftAt = sql.NullTime{}
					existing[i].JoinedAt = p.JoinedAt
					added++
				}
				continue outer
			}
		}
		existing = append(existing, p)
		added++
	}
	f.participants[chatID] = existing
	c.MemberCount += added
	f.chats[chatID] = c
	return nil
}

func (f *fakeChatRepo) RemoveParticipant(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.participants[chatID]
	removedRole := ""
	found := false
	for i := range parts {
		if parts[i].UserID == userID && parts[i].Active() {
			parts[i].LeftAt = sql.NullTime{Time: time.Now(), Valid: true}
			removedRole = parts[i].Role
			found = true
			break
		}
	}
	if !found {
		return cipherchat_errors.ErrNotFound
	}

	c := f.chats[chatID]
	c.MemberCount--

	var remaining []*chat.Participant
	for i := range parts {
		if parts[i].Active() {
			remaining = append(remaining, &parts[i])
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].JoinedAt.Before(remaining[j].JoinedAt) })

	if len(remaining) == 0 {
		c.DeletedAt = sql.NullTime{Time: time.Now(), Valid: true}
		if c.DirectKey.Valid {
			delete(f.directKeys, c.DirectKey.String)
			c.DirectKey = sql.NullString{}
		}
	} else if removedRole == chat.RoleOwner {
		hasOwner := false
		for _, p := range remaining {
			if p.Role == chat.RoleOwner {
				hasOwner = true
				break
			}
		}
		if !hasOwner {
			remaining[0].Role = chat.RoleOwner
		}
	}
	f.chats[chatID] = c
	f.participants[chatID] = parts
	return nil
}

type fakeChatCache struct {
	mu          sync.Mutex
	chats       map[uuid.UUID]chat.Chat
	invalidated []uuid.UUID
	failNext    error
}

func newFakeChatCache() *fakeChatCache {
	return &fakeChatCache{chats: make(map[uuid.UUID]chat.Chat)}
}

func (f *fakeChatCache) GetChat(_ context.Context, chatID uuid.UUID) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[chatID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeChatCache) SetChat(_ context.Context, c *chat.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.ID] = *c
	return nil
}

func (f *fakeChatCache) InvalidateChat(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	delete(f.chats, chatID)
	f.invalidated = append(f.invalidated, chatID)
	return nil
}

func newChatService() (*ChatService, *fakeChatRepo, *fakeChatCache) {
	repo := newFakeChatRepo()
	cache := newFakeChatCache()
	return NewChatService(repo, cache, logger.NewNop()), repo, cache
}

func TestCreateDirect(t *testing.T) {
	svc, _, _ := newChatService()
	alice, bob := uuid.New(), uuid.New()

	t.Run("creates with both members", func(t *testing.T) {
		c, err := svc.CreateDirect(context.Background(), alice, bob)
		require.NoError(t, err)
		assert.Equal(t, chat.KindDirect, c.Kind)
		assert.True(t, c.DirectKey.Valid)

		parts, err := svc.Participants(context.Background(), c.ID, alice)
		require.NoError(t, err)
		assert.Len(t, parts, 2)
	})

	t.Run("second creation collapses regardless of argument order", func(t *testing.T) {
		_, err := svc.CreateDirect(context.Background(), bob, alice)
		assert.ErrorIs(t, err, cipherchat_errors.ErrAlreadyExists)
	})

	t.Run("abandoned direct chat frees the pair key", func(t *testing.T) {
		carol, dave := uuid.New(), uuid.New()
		c, err := svc.CreateDirect(context.Background(), carol, dave)
		require.NoError(t, err)

		require.NoError(t, svc.RemoveParticipant(context.Background(), c.ID, carol, carol))
		require.NoError(t, svc.RemoveParticipant(context.Background(), c.ID, dave, dave))

		again, err := svc.CreateDirect(context.Background(), dave, carol)
		require.NoError(t, err)
		assert.NotEqual(t, c.ID, again.ID)
	})

	t.Run("self chat rejected", func(t *testing.T) {
		_, err := svc.CreateDirect(context.Background(), alice, alice)
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
	})

	t.Run("nil member rejected", func(t *testing.T) {
		_, err := svc.CreateDirect(context.Background(), alice, uuid.Nil)
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
	})
}

func TestCreateGroup(t *testing.T) {
	svc, repo, _ := newChatService()
	creator := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New()}

	c, err := svc.CreateGroup(context.Background(), creator, chat.KindGroup, "ops", members)
	require.NoError(t, err)

	parts, err := repo.GetActiveParticipants(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, chat.RoleOwner, parts[0].Role)
	assert.Equal(t, creator, parts[0].UserID)

	t.Run("creator duplicated in member list is not added twice", func(t *testing.T) {
		c, err := svc.CreateGroup(context.Background(), creator, chat.KindGroup, "dup", []uuid.UUID{creator})
		require.NoError(t, err)
		parts, err := repo.GetActiveParticipants(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Len(t, parts, 1)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		_, err := svc.CreateGroup(context.Background(), creator, "BROADCAST", "x", nil)
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
	})

	t.Run("blank title rejected", func(t *testing.T) {
		_, err := svc.CreateGroup(context.Background(), creator, chat.KindGroup, "   ", nil)
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
	})
}

func TestParticipantManagement(t *testing.T) {
	svc, repo, _ := newChatService()
	owner := uuid.New()
	member := uuid.New()

	c, err := svc.CreateGroup(context.Background(), owner, chat.KindGroup, "team", []uuid.UUID{member})
	require.NoError(t, err)

	t.Run("member cannot add participants", func(t *testing.T) {
		err := svc.AddParticipants(context.Background(), c.ID, member, []uuid.UUID{uuid.New()})
		assert.ErrorIs(t, err, cipherchat_errors.ErrForbidden)
	})

	t.Run("owner adds participants", func(t *testing.T) {
		newbie := uuid.New()
		require.NoError(t, svc.AddParticipants(context.Background(), c.ID, owner, []uuid.UUID{newbie}))
		require.NoError(t, svc.AssertActiveMember(context.Background(), c.ID, newbie))
	})

	t.Run("outsider is not a member", func(t *testing.T) {
		err := svc.AssertActiveMember(context.Background(), c.ID, uuid.New())
		assert.ErrorIs(t, err, cipherchat_errors.ErrNotAMember)
	})

	t.Run("member removes themselves", func(t *testing.T) {
		require.NoError(t, svc.RemoveParticipant(context.Background(), c.ID, member, member))
		err := svc.AssertActiveMember(context.Background(), c.ID, member)
		assert.ErrorIs(t, err, cipherchat_errors.ErrNotAMember)
	})

	t.Run("member cannot remove someone else", func(t *testing.T) {
		victim := uuid.New()
		require.NoError(t, svc.AddParticipants(context.Background(), c.ID, owner, []uuid.UUID{victim}))
		err := svc.RemoveParticipant(context.Background(), c.ID, victim, owner)
		assert.ErrorIs(t, err, cipherchat_errors.ErrForbidden)
	})

	t.Run("removing a non-member reports not a member", func(t *testing.T) {
		err := svc.RemoveParticipant(context.Background(), c.ID, owner, uuid.New())
		assert.ErrorIs(t, err, cipherchat_errors.ErrNotAMember)
	})

	t.Run("ownership hands off to the next joined member", func(t *testing.T) {
		require.NoError(t, svc.RemoveParticipant(context.Background(), c.ID, owner, owner))

		parts, err := repo.GetActiveParticipants(context.Background(), c.ID)
		require.NoError(t, err)
		require.NotEmpty(t, parts)
		assert.Equal(t, chat.RoleOwner, parts[0].Role)
	})
}

func TestChatDeletedWhenLastMemberLeaves(t *testing.T) {
	svc, repo, _ := newChatService()
	owner := uuid.New()

	c, err := svc.CreateGroup(context.Background(), owner, chat.KindGroup, "solo", nil)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveParticipant(context.Background(), c.ID, owner, owner))

	_, err = repo.GetByID(context.Background(), c.ID)
	assert.ErrorIs(t, err, cipherchat_errors.ErrNotFound)
}

func TestChatCacheCoherency(t *testing.T) {
	svc, _, cache := newChatService()
	owner := uuid.New()

	c, err := svc.CreateGroup(context.Background(), owner, chat.KindGroup, "team", nil)
	require.NoError(t, err)

	t.Run("get populates the cache", func(t *testing.T) {
		got, err := svc.GetChat(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)

		cached, err := cache.GetChat(context.Background(), c.ID)
		require.NoError(t, err)
		require.NotNil(t, cached)
	})

	t.Run("mutation invalidates before acking", func(t *testing.T) {
		require.NoError(t, svc.AddParticipants(context.Background(), c.ID, owner, []uuid.UUID{uuid.New()}))
		cached, err := cache.GetChat(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Nil(t, cached)
	})

	t.Run("failed invalidation fails the mutation", func(t *testing.T) {
		cache.failNext = errors.New("redis down")
		err := svc.AddParticipants(context.Background(), c.ID, owner, []uuid.UUID{uuid.New()})
		assert.ErrorIs(t, err, cipherchat_errors.ErrServiceUnavailable)
	})
}
