package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisRegistry keeps the session table in a shared store so multiple
// instances see the same sessions. The idle ceiling maps onto the key
// TTL; the absolute ceiling is checked against the stored creation
// time. A per-user sorted set scored by creation time drives FIFO cap
// eviction. Redis expiry replaces the in-memory sweeper.
//
// One behavioral difference from MemoryRegistry: an idle-expired
// session's key has already been TTL-evicted by the time it is touched
// again, so Touch reports OutcomeCreated rather than OutcomeExpired.
// Callers treating only OutcomeExpired as a forced re-authentication
// must not rely on seeing it for idle expiry here.
type RedisRegistry struct {
	client *goredis.Client
	cfg    Config
	now    func() time.Time
}

func NewRedisRegistry(client *goredis.Client, cfg Config) *RedisRegistry {
	return &RedisRegistry{client: client, cfg: cfg, now: time.Now}
}

type redisSession struct {
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func sessionKey(k Key) string {
	return fmt.Sprintf("session:%s:%s:%s", k.UserID, k.Fingerprint, k.SourceAddr)
}

func userIndexKey(userID uuid.UUID) string {
	return fmt.Sprintf("session:index:%s", userID)
}

func (r *RedisRegistry) Touch(ctx context.Context, key Key) (Outcome, error) {
	now := r.now()
	k := sessionKey(key)

	data, err := r.client.Get(ctx, k).Result()
	switch {
	case err == goredis.Nil:
		return r.create(ctx, key, now)
	case err != nil:
		return 0, err
	}

	var s redisSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return 0, err
	}
	if r.cfg.AbsoluteTimeout > 0 && now.Sub(s.CreatedAt) > r.cfg.AbsoluteTimeout {
		if err := r.drop(ctx, key); err != nil {
			return 0, err
		}
		return OutcomeExpired, nil
	}

	s.LastActivity = now
	if err := r.set(ctx, k, s); err != nil {
		return 0, err
	}
	return OutcomeActive, nil
}

func (r *RedisRegistry) create(ctx context.Context, key Key, now time.Time) (Outcome, error) {
	index := userIndexKey(key.UserID)

	// Evict stale index members first so phantom entries (session key
	// expired, index member left behind) do not count against the cap.
	members, err := r.client.ZRangeWithScores(ctx, index, 0, -1).Result()
	if err != nil && err != goredis.Nil {
		return 0, err
	}
	live := 0
	oldestMember := ""
	var oldestScore float64
	for _, m := range members {
		member, _ := m.Member.(string)
		exists, err := r.client.Exists(ctx, member).Result()
		if err != nil {
			return 0, err
		}
		if exists == 0 {
			_ = r.client.ZRem(ctx, index, member).Err()
			continue
		}
		live++
		if oldestMember == "" || m.Score < oldestScore {
			oldestMember, oldestScore = member, m.Score
		}
	}

	if r.cfg.MaxPerUser > 0 && live >= r.cfg.MaxPerUser && oldestMember != "" {
		if err := r.client.Del(ctx, oldestMember).Err(); err != nil {
			return 0, err
		}
		if err := r.client.ZRem(ctx, index, oldestMember).Err(); err != nil {
			return 0, err
		}
	}

	k := sessionKey(key)
	if err := r.set(ctx, k, redisSession{CreatedAt: now, LastActivity: now}); err != nil {
		return 0, err
	}
	if err := r.client.ZAdd(ctx, index, goredis.Z{Score: float64(now.UnixNano()), Member: k}).Err(); err != nil {
		return 0, err
	}
	// The index outlives its members by at most the absolute ceiling.
	if r.cfg.AbsoluteTimeout > 0 {
		_ = r.client.Expire(ctx, index, r.cfg.AbsoluteTimeout).Err()
	}
	return OutcomeCreated, nil
}

func (r *RedisRegistry) set(ctx context.Context, key string, s redisSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := r.cfg.IdleTimeout
	if r.cfg.AbsoluteTimeout > 0 {
		remaining := r.cfg.AbsoluteTimeout - r.now().Sub(s.CreatedAt)
		if ttl <= 0 || remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisRegistry) drop(ctx context.Context, key Key) error {
	k := sessionKey(key)
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return err
	}
	return r.client.ZRem(ctx, userIndexKey(key.UserID), k).Err()
}

func (r *RedisRegistry) RevokeOne(ctx context.Context, key Key) error {
	return r.drop(ctx, key)
}

func (r *RedisRegistry) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	index := userIndexKey(userID)
	members, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil && err != goredis.Nil {
		return err
	}
	if len(members) > 0 {
		if err := r.client.Del(ctx, members...).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, index).Err()
}

func (r *RedisRegistry) Count(ctx context.Context, userID uuid.UUID) (int, error) {
	members, err := r.client.ZRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil && err != goredis.Nil {
		return 0, err
	}
	count := 0
	for _, m := range members {
		exists, err := r.client.Exists(ctx, m).Result()
		if err != nil {
			return 0, err
		}
		if exists > 0 {
			count++
		}
	}
	return count, nil
}
