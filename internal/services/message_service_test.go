package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"cipherchat/internal/domain/message"
	"cipherchat/internal/domain/user"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]message.Message
	seqs     map[uuid.UUID]int64
	reads    []message.MessageRead
	modLogs  []message.ModerationLog
	failNext error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[uuid.UUID]message.Message),
		seqs:     make(map[uuid.UUID]int64),
	}
}

func (f *fakeMessageRepo) takeFailure() error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	return nil
}

func (f *fakeMessageRepo) Create(_ context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.seqs[m.ChatID]++
	m.Seq = f.seqs[m.ChatID]
	f.messages[m.ID] = *m
	return nil
}

func (f *fakeMessageRepo) CreateBatch(_ context.Context, msgs []*message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	for _, m := range msgs {
		f.seqs[m.ChatID]++
		m.Seq = f.seqs[m.ChatID]
		f.messages[m.ID] = *m
	}
	return nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return message.Message{}, cipherchat_errors.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessageRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) List(_ context.Context, chatID uuid.UUID, limit int, beforeSeq, afterSeq int64) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, m := range f.messages {
		if m.ChatID != chatID || m.DeletedForAllAt.Valid {
			continue
		}
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		if afterSeq > 0 && m.Seq <= afterSeq {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageRepo) UpdateContent(_ context.Context, id uuid.UUID, content []byte, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || m.DeletedForAllAt.Valid {
		return cipherchat_errors.ErrNotFound
	}
	m.Content = content
	m.EditedAt.Time = editedAt
	m.EditedAt.Valid = true
	f.messages[id] = m
	return nil
}

func (f *fakeMessageRepo) MarkDeleted(_ context.Context, ids []uuid.UUID, requesterID uuid.UUID, forEveryone, restrictToSender bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok {
			continue
		}
		if restrictToSender && m.SenderID != requesterID {
			continue
		}
		if forEveryone {
			if m.DeletedForAllAt.Valid {
				continue
			}
			m.DeletedForAllAt.Time = now
			m.DeletedForAllAt.Valid = true
		} else {
			if m.DeletedForSenderAt.Valid {
				continue
			}
			m.DeletedForSenderAt.Time = now
			m.DeletedForSenderAt.Valid = true
		}
		f.messages[id] = m
		n++
	}
	return n, nil
}

func (f *fakeMessageRepo) CreateReads(_ context.Context, reads []message.MessageRead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, reads...)
	return nil
}

func (f *fakeMessageRepo) AddReaction(_ context.Context, r *message.MessageReaction) error {
	return nil
}

func (f *fakeMessageRepo) RemoveReaction(_ context.Context, messageID, userID uuid.UUID) error {
	return cipherchat_errors.ErrNotFound
}

func (f *fakeMessageRepo) CreateModerationLog(_ context.Context, entry *message.ModerationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modLogs = append(f.modLogs, *entry)
	return nil
}

type fakeMessageCache struct {
	mu          sync.Mutex
	pages       map[uuid.UUID][]message.Message
	invalidated int
	failNext    error
}

func newFakeMessageCache() *fakeMessageCache {
	return &fakeMessageCache{pages: make(map[uuid.UUID][]message.Message)}
}

func (f *fakeMessageCache) GetMessagePage(_ context.Context, chatID uuid.UUID) ([]message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[chatID]
	return page, ok, nil
}

func (f *fakeMessageCache) SetMessagePage(_ context.Context, chatID uuid.UUID, msgs []message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[chatID] = append([]message.Message(nil), msgs...)
	return nil
}

func (f *fakeMessageCache) InvalidateChat(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	delete(f.pages, chatID)
	f.invalidated++
	return nil
}

type allowAllGuard struct{}

func (allowAllGuard) AssertActiveMember(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type denyGuard struct{}

func (denyGuard) AssertActiveMember(context.Context, uuid.UUID, uuid.UUID) error {
	return cipherchat_errors.ErrNotAMember
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]user.User)}
}

func (f *fakeUserRepo) put(u user.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeUserRepo) Create(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return cipherchat_errors.ErrAlreadyExists
		}
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return user.User{}, cipherchat_errors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, cipherchat_errors.ErrNotFound
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email.Valid && u.Email.String == email {
			return u, nil
		}
	}
	return user.User{}, cipherchat_errors.ErrNotFound
}

func (f *fakeUserRepo) Update(_ context.Context, u user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return cipherchat_errors.ErrNotFound
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserRepo) SetTwoFactor(_ context.Context, id uuid.UUID, secret string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return cipherchat_errors.ErrNotFound
	}
	u.TwoFactorSecret = toNullString(secret)
	u.TwoFactorEnabled = enabled
	f.users[id] = u
	return nil
}

func (f *fakeUserRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return cipherchat_errors.ErrNotFound
	}
	u.Status = status
	f.users[id] = u
	return nil
}

func newMessageService(guard MembershipGuard) (*MessageService, *fakeMessageRepo, *fakeMessageCache, *fakeUserRepo) {
	repo := newFakeMessageRepo()
	cache := newFakeMessageCache()
	users := newFakeUserRepo()
	svc := NewMessageService(repo, users, guard, cache, logger.NewNop(), MessageConfig{
		EditWindow:   15 * time.Minute,
		PageLimitMax: 10,
	})
	return svc, repo, cache, users
}

func TestSend(t *testing.T) {
	svc, _, cache, _ := newMessageService(allowAllGuard{})
	chatID, sender := uuid.New(), uuid.New()

	t.Run("assigns sequence and invalidates cache", func(t *testing.T) {
		first, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte("a")})
		require.NoError(t, err)
		second, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte("b")})
		require.NoError(t, err)
		assert.Greater(t, second.Seq, first.Seq)
		assert.Equal(t, 2, cache.invalidated)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		_, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender})
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
	})

	t.Run("non-member rejected", func(t *testing.T) {
		denied, _, _, _ := newMessageService(denyGuard{})
		_, err := denied.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte("x")})
		assert.ErrorIs(t, err, cipherchat_errors.ErrNotAMember)
	})

	t.Run("failed invalidation fails the send", func(t *testing.T) {
		cache.failNext = errors.New("redis down")
		_, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte("c")})
		assert.ErrorIs(t, err, cipherchat_errors.ErrServiceUnavailable)
	})
}

func TestSendBatch(t *testing.T) {
	t.Run("contiguous sequences per chat", func(t *testing.T) {
		svc, _, _, _ := newMessageService(allowAllGuard{})
		chatID, sender := uuid.New(), uuid.New()

		inputs := []SendInput{
			{ChatID: chatID, SenderID: sender, Content: []byte("1")},
			{ChatID: chatID, SenderID: sender, Content: []byte("2")},
			{ChatID: chatID, SenderID: sender, Content: []byte("3")},
		}
		msgs, err := svc.SendBatch(context.Background(), inputs)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i := 1; i < len(msgs); i++ {
			assert.Equal(t, msgs[i-1].Seq+1, msgs[i].Seq)
		}
	})

	t.Run("whole batch fails together", func(t *testing.T) {
		svc, repo, _, _ := newMessageService(allowAllGuard{})
		chatID, sender := uuid.New(), uuid.New()

		repo.failNext = errors.New("deadlock")
		_, err := svc.SendBatch(context.Background(), []SendInput{
			{ChatID: chatID, SenderID: sender, Content: []byte("1")},
			{ChatID: chatID, SenderID: sender, Content: []byte("2")},
		})
		require.Error(t, err)
		assert.Empty(t, repo.messages)
	})

	t.Run("one invalid message rejects the whole batch", func(t *testing.T) {
		svc, repo, _, _ := newMessageService(allowAllGuard{})
		chatID, sender := uuid.New(), uuid.New()

		_, err := svc.SendBatch(context.Background(), []SendInput{
			{ChatID: chatID, SenderID: sender, Content: []byte("ok")},
			{ChatID: chatID, SenderID: sender},
		})
		assert.ErrorIs(t, err, cipherchat_errors.ErrInvalidInput)
		assert.Empty(t, repo.messages)
	})
}

func TestRead(t *testing.T) {
	svc, repo, cache, _ := newMessageService(allowAllGuard{})
	chatID := uuid.New()
	alice, bob := uuid.New(), uuid.New()

	for i := 0; i < 15; i++ {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		_, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte{byte(i)}})
		require.NoError(t, err)
	}

	t.Run("newest first with clamped limit", func(t *testing.T) {
		res, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 1000})
		require.NoError(t, err)
		assert.Len(t, res.Messages, 10)
		assert.True(t, res.HasMore)
		require.True(t, res.NextCursor.Valid)
		assert.EqualValues(t, 15, res.Messages[0].Seq)
		assert.EqualValues(t, 6, res.Messages[len(res.Messages)-1].Seq)
	})

	t.Run("cursor continues where the page ended", func(t *testing.T) {
		first, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 10})
		require.NoError(t, err)
		require.True(t, first.NextCursor.Valid)

		rest, err := svc.Read(context.Background(), chatID, alice, ReadOptions{
			Limit:    10,
			BeforeID: first.NextCursor,
		})
		require.NoError(t, err)
		assert.Len(t, rest.Messages, 5)
		assert.False(t, rest.HasMore)
		assert.EqualValues(t, 5, rest.Messages[0].Seq)
	})

	t.Run("default page is served from cache on repeat", func(t *testing.T) {
		cache.mu.Lock()
		_, cached := cache.pages[chatID]
		cache.mu.Unlock()
		require.True(t, cached)

		res, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, res.Messages, 3)
	})

	t.Run("non-member cannot read", func(t *testing.T) {
		denied, _, _, _ := newMessageService(denyGuard{})
		_, err := denied.Read(context.Background(), chatID, uuid.New(), ReadOptions{})
		assert.ErrorIs(t, err, cipherchat_errors.ErrNotAMember)
	})

	t.Run("read receipts recorded for other senders only", func(t *testing.T) {
		wake := make(chan struct{})
		svc.wakeCh = wake
		res, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, res.Messages)
		svc.wakeCh = nil

		select {
		case <-wake:
		case <-time.After(2 * time.Second):
			t.Fatal("read receipts never flushed")
		}

		repo.mu.Lock()
		defer repo.mu.Unlock()
		require.NotEmpty(t, repo.reads)
		for _, r := range repo.reads {
			assert.Equal(t, alice, r.UserID)
			assert.NotEqual(t, alice, repo.messages[r.MessageID].SenderID)
		}
	})
}

func TestReadPaginatesPastOwnDeletes(t *testing.T) {
	svc, _, _, users := newMessageService(allowAllGuard{})
	svc.cfg.PageLimitMax = 3
	chatID, alice := uuid.New(), uuid.New()
	users.put(user.User{ID: alice, Username: "alice", Role: user.RoleUser, Status: user.StatusActive})

	var sent []message.Message
	for i := 0; i < 8; i++ {
		m, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: alice, Content: []byte{byte(i)}})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	// The two newest are hidden from alice only. Pagination must scan
	// past them instead of reporting the end of history.
	_, err := svc.Delete(context.Background(), []uuid.UUID{sent[7].ID, sent[6].ID}, alice, false)
	require.NoError(t, err)

	first, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 3})
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	require.True(t, first.NextCursor.Valid)

	got := append([]message.Message(nil), first.Messages...)
	cursor, hasMore := first.NextCursor, first.HasMore
	for hasMore {
		require.True(t, cursor.Valid)
		page, err := svc.Read(context.Background(), chatID, alice, ReadOptions{Limit: 3, BeforeID: cursor})
		require.NoError(t, err)
		got = append(got, page.Messages...)
		cursor, hasMore = page.NextCursor, page.HasMore
	}

	require.Len(t, got, 6)
	assert.EqualValues(t, 6, got[0].Seq)
	assert.EqualValues(t, 1, got[len(got)-1].Seq)
	for _, m := range got {
		assert.NotEqual(t, sent[7].ID, m.ID)
		assert.NotEqual(t, sent[6].ID, m.ID)
	}
}

func TestDeleteVisibility(t *testing.T) {
	svc, repo, _, users := newMessageService(allowAllGuard{})
	chatID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	users.put(user.User{ID: alice, Username: "alice", Role: user.RoleUser, Status: user.StatusActive})
	users.put(user.User{ID: bob, Username: "bob", Role: user.RoleUser, Status: user.StatusActive})

	send := func(sender uuid.UUID) message.Message {
		m, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Content: []byte("x")})
		require.NoError(t, err)
		return m
	}

	t.Run("for-sender delete hides only from the sender", func(t *testing.T) {
		m := send(alice)
		res, err := svc.Delete(context.Background(), []uuid.UUID{m.ID}, alice, false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.DeletedCount)

		forAlice, err := svc.Read(context.Background(), chatID, alice, ReadOptions{})
		require.NoError(t, err)
		forBob, err := svc.Read(context.Background(), chatID, bob, ReadOptions{})
		require.NoError(t, err)

		assert.False(t, containsMessage(forAlice.Messages, m.ID))
		assert.True(t, containsMessage(forBob.Messages, m.ID))
	})

	t.Run("for-everyone delete hides from all", func(t *testing.T) {
		m := send(alice)
		res, err := svc.Delete(context.Background(), []uuid.UUID{m.ID}, alice, true)
		require.NoError(t, err)
		assert.Equal(t, 1, res.DeletedCount)

		forBob, err := svc.Read(context.Background(), chatID, bob, ReadOptions{})
		require.NoError(t, err)
		assert.False(t, containsMessage(forBob.Messages, m.ID))
	})

	t.Run("cannot delete someone else's message", func(t *testing.T) {
		m := send(alice)
		res, err := svc.Delete(context.Background(), []uuid.UUID{m.ID}, bob, true)
		require.NoError(t, err)
		assert.Equal(t, 0, res.DeletedCount)
		assert.Equal(t, 1, res.FailedCount)
	})

	t.Run("moderator for-everyone delete is logged", func(t *testing.T) {
		mod := uuid.New()
		users.put(user.User{ID: mod, Username: "mod", Role: user.RoleModerator, Status: user.StatusActive})

		m := send(alice)
		res, err := svc.Delete(context.Background(), []uuid.UUID{m.ID}, mod, true)
		require.NoError(t, err)
		assert.Equal(t, 1, res.DeletedCount)

		repo.mu.Lock()
		defer repo.mu.Unlock()
		require.Len(t, repo.modLogs, 1)
		assert.Equal(t, mod, repo.modLogs[0].ModeratorID)
		assert.Equal(t, m.ID, repo.modLogs[0].MessageID)
	})
}

func TestEdit(t *testing.T) {
	svc, _, _, users := newMessageService(allowAllGuard{})
	chatID, alice, bob := uuid.New(), uuid.New(), uuid.New()
	users.put(user.User{ID: alice, Username: "alice", Role: user.RoleUser, Status: user.StatusActive})

	m, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: alice, Content: []byte("typo")})
	require.NoError(t, err)

	t.Run("author edits within the window", func(t *testing.T) {
		edited, err := svc.Edit(context.Background(), m.ID, alice, []byte("fixed"))
		require.NoError(t, err)
		assert.Equal(t, []byte("fixed"), edited.Content)
		assert.True(t, edited.EditedAt.Valid)
	})

	t.Run("only the author may edit", func(t *testing.T) {
		_, err := svc.Edit(context.Background(), m.ID, bob, []byte("hijack"))
		assert.ErrorIs(t, err, cipherchat_errors.ErrForbidden)
	})

	t.Run("window expiry rejects the edit", func(t *testing.T) {
		svc.nowFn = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { svc.nowFn = time.Now }()
		_, err := svc.Edit(context.Background(), m.ID, alice, []byte("late"))
		assert.ErrorIs(t, err, cipherchat_errors.ErrEditWindowExpired)
	})

	t.Run("deleted message cannot be edited", func(t *testing.T) {
		dead, err := svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: alice, Content: []byte("x")})
		require.NoError(t, err)
		_, err = svc.Delete(context.Background(), []uuid.UUID{dead.ID}, alice, true)
		require.NoError(t, err)
		_, err = svc.Edit(context.Background(), dead.ID, alice, []byte("zombie"))
		assert.Error(t, err)
	})
}

func containsMessage(msgs []message.Message, id uuid.UUID) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
