package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cipherchat/internal/domain/chat"
	"cipherchat/internal/domain/message"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - chat:{chat_id} - chat metadata, 5m TTL
// - chat:{chat_id}:page - newest message page, 2m TTL
//
// Both keys are dropped together on any mutation touching the chat,
// before the mutation acks to its caller.

// CacheConfig contains configuration for caching
type CacheConfig struct {
	ChatTTL time.Duration
	PageTTL time.Duration
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ChatTTL: 5 * time.Minute,
		PageTTL: 2 * time.Minute,
	}
}

// CacheStore handles caching in Redis. A nil *CacheStore (or one built
// over a nil client) is a valid degraded mode: every read misses and
// every write is a no-op, so the pipeline falls back to direct reads.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{client: client, config: config}
}

func (c *CacheStore) disabled() bool {
	return c == nil || c.client == nil
}

// --- Chat metadata cache ---

func chatKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s", chatID)
}

func pageKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:page", chatID)
}

// GetChat retrieves a chat from cache. (nil, nil) is a miss.
func (c *CacheStore) GetChat(ctx context.Context, chatID uuid.UUID) (*chat.Chat, error) {
	if c.disabled() {
		return nil, nil
	}
	data, err := c.client.Get(ctx, chatKey(chatID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached chat.Chat
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// SetChat stores a chat in cache
func (c *CacheStore) SetChat(ctx context.Context, cached *chat.Chat) error {
	if c.disabled() {
		return nil
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, chatKey(cached.ID), data, c.config.ChatTTL).Err()
}

// --- Message page cache ---

// MessagePage is the cached newest page of a chat. Entries still carry
// their per-sender delete flags; requester-specific visibility is
// applied after the page is loaded.
type MessagePage struct {
	Messages []message.Message `json:"messages"`
	CachedAt time.Time         `json:"cached_at"`
}

// GetMessagePage retrieves the newest page. ok is false on a miss.
func (c *CacheStore) GetMessagePage(ctx context.Context, chatID uuid.UUID) ([]message.Message, bool, error) {
	if c.disabled() {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, pageKey(chatID)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var page MessagePage
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		return nil, false, err
	}
	return page.Messages, true, nil
}

// SetMessagePage stores the newest page for a chat
func (c *CacheStore) SetMessagePage(ctx context.Context, chatID uuid.UUID, msgs []message.Message) error {
	if c.disabled() {
		return nil
	}
	data, err := json.Marshal(MessagePage{Messages: msgs, CachedAt: time.Now()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pageKey(chatID), data, c.config.PageTTL).Err()
}

// InvalidateChat removes everything cached for a chat. Mutating
// operations call this before returning success to their caller.
func (c *CacheStore) InvalidateChat(ctx context.Context, chatID uuid.UUID) error {
	if c.disabled() {
		return nil
	}
	return c.client.Del(ctx, chatKey(chatID), pageKey(chatID)).Err()
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	if c.disabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
