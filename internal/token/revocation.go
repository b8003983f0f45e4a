package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RevocationList is the append-only set of spent refresh tokens,
// keyed by jti, plus a per-user cutoff for revoking every outstanding
// token at once. Entries only need to live until the token they block
// would have expired anyway.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeUser invalidates every refresh token issued to the user
	// before the call. Tokens issued afterwards are unaffected.
	RevokeUser(ctx context.Context, userID string, ttl time.Duration) error
	// UserCutoff returns the instant of the user's last RevokeUser
	// call in unix nanoseconds, zero when there was none.
	UserCutoff(ctx context.Context, userID string) (int64, error)
}

// RedisRevocationList stores one key per revoked jti. Setting the key
// TTL to the token's remaining lifetime is the pruning the append-only
// set needs; redis drops the entry the moment it stops mattering.
type RedisRevocationList struct {
	client *goredis.Client
}

func NewRedisRevocationList(client *goredis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

func revocationKey(jti string) string {
	return fmt.Sprintf("revoked:%s", jti)
}

func userCutoffKey(userID string) string {
	return fmt.Sprintf("revoked:user:%s", userID)
}

func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return l.client.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// The cutoff is a wall-clock instant rather than a counter: when the
// key expires and a later RevokeUser writes a fresh one, the new value
// still sorts after every cutoff any live token was issued under.
func (l *RedisRevocationList) RevokeUser(ctx context.Context, userID string, ttl time.Duration) error {
	return l.client.Set(ctx, userCutoffKey(userID), time.Now().UnixNano(), ttl).Err()
}

func (l *RedisRevocationList) UserCutoff(ctx context.Context, userID string) (int64, error) {
	n, err := l.client.Get(ctx, userCutoffKey(userID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// MemoryRevocationList is the single-process fallback used when redis
// is absent, and in tests.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	cutoffs map[string]int64
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: make(map[string]time.Time),
		cutoffs: make(map[string]int64),
	}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = time.Now().Add(ttl)
	return nil
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline, ok := l.entries[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(l.entries, jti)
		return false, nil
	}
	return true, nil
}

// Cutoffs are never pruned; the map holds one int64 per user that ever
// signed out everywhere, which the single-process fallback can afford.
func (l *MemoryRevocationList) RevokeUser(_ context.Context, userID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutoffs[userID] = time.Now().UnixNano()
	return nil
}

func (l *MemoryRevocationList) UserCutoff(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cutoffs[userID], nil
}
