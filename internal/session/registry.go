// Package session tracks live (user, device, source) sessions with
// idle and absolute ceilings and a per-user concurrency cap.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Key identifies one session.
type Key struct {
	UserID      uuid.UUID
	Fingerprint string
	SourceAddr  string
}

// Outcome of a Touch call.
type Outcome int

const (
	// OutcomeCreated means no session existed and one was created.
	OutcomeCreated Outcome = iota
	// OutcomeActive means the session existed and its activity clock
	// was refreshed.
	OutcomeActive
	// OutcomeExpired means the session blew an idle or absolute
	// ceiling and was destroyed; the caller must re-authenticate.
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeActive:
		return "active"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Registry is the session table. Implementations must allow Touch
// calls for different keys to proceed concurrently; calls for the same
// key are serialized.
type Registry interface {
	Touch(ctx context.Context, key Key) (Outcome, error)
	RevokeOne(ctx context.Context, key Key) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	Count(ctx context.Context, userID uuid.UUID) (int, error)
}

// Config holds the registry ceilings.
type Config struct {
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	MaxPerUser      int
	SweepInterval   time.Duration
}

type entry struct {
	createdAt    time.Time
	lastActivity time.Time
}

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	users map[uuid.UUID]map[Key]*entry
}

// MemoryRegistry is the in-process implementation. Sessions are
// sharded by user id, so a user's sessions colocate on one shard:
// same-user touches serialize on the shard lock, different users
// mostly do not contend.
type MemoryRegistry struct {
	cfg    Config
	shards [shardCount]*shard
	now    func() time.Time
}

func NewMemoryRegistry(cfg Config) *MemoryRegistry {
	r := &MemoryRegistry{cfg: cfg, now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[uuid.UUID]map[Key]*entry)}
	}
	return r
}

func (r *MemoryRegistry) shardFor(userID uuid.UUID) *shard {
	return r.shards[int(userID[0])%shardCount]
}

func (r *MemoryRegistry) expired(e *entry, now time.Time) bool {
	if r.cfg.IdleTimeout > 0 && now.Sub(e.lastActivity) > r.cfg.IdleTimeout {
		return true
	}
	if r.cfg.AbsoluteTimeout > 0 && now.Sub(e.createdAt) > r.cfg.AbsoluteTimeout {
		return true
	}
	return false
}

func (r *MemoryRegistry) Touch(_ context.Context, key Key) (Outcome, error) {
	s := r.shardFor(key.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := r.now()
	sessions := s.users[key.UserID]

	if e, ok := sessions[key]; ok {
		if r.expired(e, now) {
			delete(sessions, key)
			if len(sessions) == 0 {
				delete(s.users, key.UserID)
			}
			return OutcomeExpired, nil
		}
		e.lastActivity = now
		return OutcomeActive, nil
	}

	if sessions == nil {
		sessions = make(map[Key]*entry)
		s.users[key.UserID] = sessions
	}

	// Cap enforcement is FIFO by creation time, not LRU. A cap lowered
	// at runtime takes effect here, on the next touch, not eagerly.
	for r.cfg.MaxPerUser > 0 && len(sessions) >= r.cfg.MaxPerUser {
		var oldestKey Key
		var oldest *entry
		for k, e := range sessions {
			if oldest == nil || e.createdAt.Before(oldest.createdAt) {
				oldestKey, oldest = k, e
			}
		}
		delete(sessions, oldestKey)
	}

	sessions[key] = &entry{createdAt: now, lastActivity: now}
	return OutcomeCreated, nil
}

func (r *MemoryRegistry) RevokeOne(_ context.Context, key Key) error {
	s := r.shardFor(key.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessions, ok := s.users[key.UserID]; ok {
		delete(sessions, key)
		if len(sessions) == 0 {
			delete(s.users, key.UserID)
		}
	}
	return nil
}

func (r *MemoryRegistry) RevokeAll(_ context.Context, userID uuid.UUID) error {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context, userID uuid.UUID) (int, error) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.users[userID]), nil
}

// sweep removes entries past either ceiling. Without it an abandoned
// session would sit in memory until its user touches again.
func (r *MemoryRegistry) sweep() {
	now := r.now()
	for _, s := range r.shards {
		s.mu.Lock()
		for userID, sessions := range s.users {
			for k, e := range sessions {
				if r.expired(e, now) {
					delete(sessions, k)
				}
			}
			if len(sessions) == 0 {
				delete(s.users, userID)
			}
		}
		s.mu.Unlock()
	}
}

// StartSweeper runs the periodic sweep until ctx is cancelled.
func (r *MemoryRegistry) StartSweeper(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}
