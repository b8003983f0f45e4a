package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		MaxPerUser:      3,
	}
}

func key(userID uuid.UUID, n int) Key {
	return Key{UserID: userID, Fingerprint: fmt.Sprintf("fp-%d", n), SourceAddr: "10.0.0.1"}
}

func TestTouchCreateAndRefresh(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	out, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	out, err = r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActive, out)

	n, err := r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCapEvictsOldestByCreation(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	now := time.Now()
	clock := now
	r.now = func() time.Time { return clock }

	for i := 1; i <= 3; i++ {
		clock = now.Add(time.Duration(i) * time.Minute)
		_, err := r.Touch(ctx, key(userID, i))
		require.NoError(t, err)
	}

	// Touch the oldest session so it is the most recently used but
	// still the oldest by creation. FIFO must evict it anyway.
	clock = now.Add(10 * time.Minute)
	out, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	require.Equal(t, OutcomeActive, out)

	clock = now.Add(11 * time.Minute)
	out, err = r.Touch(ctx, key(userID, 4))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	n, err := r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	out, err = r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out, "oldest-created session should have been evicted")
}

func TestIdleExpiryWithinAbsoluteBounds(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	now := time.Now()
	clock := now
	r.now = func() time.Time { return clock }

	_, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)

	// Idle ceiling blown, absolute age still fine.
	clock = now.Add(31 * time.Minute)
	out, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, out)

	// The expired entry is gone; the next touch starts fresh.
	out, err = r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)
}

func TestAbsoluteExpiryDespiteActivity(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	now := time.Now()
	clock := now
	r.now = func() time.Time { return clock }

	_, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)

	// Keep the session busy past the absolute ceiling.
	for i := 1; i <= 26; i++ {
		clock = now.Add(time.Duration(i) * 29 * time.Minute)
		out, err := r.Touch(ctx, key(userID, 1))
		require.NoError(t, err)
		if clock.Sub(now) > testConfig().AbsoluteTimeout {
			assert.Equal(t, OutcomeExpired, out)
			return
		}
		require.Equal(t, OutcomeActive, out)
	}
	t.Fatal("session never hit the absolute ceiling")
}

func TestRevoke(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	for i := 1; i <= 3; i++ {
		_, err := r.Touch(ctx, key(userID, i))
		require.NoError(t, err)
	}

	require.NoError(t, r.RevokeOne(ctx, key(userID, 2)))
	n, err := r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.RevokeAll(ctx, userID))
	n, err = r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepRemovesExpiredWithoutTraffic(t *testing.T) {
	r := NewMemoryRegistry(testConfig())
	ctx := context.Background()
	userID := uuid.New()

	now := time.Now()
	clock := now
	r.now = func() time.Time { return clock }

	_, err := r.Touch(ctx, key(userID, 1))
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	r.sweep()

	n, err := r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConcurrentTouchDistinctUsers(t *testing.T) {
	r := NewMemoryRegistry(Config{
		IdleTimeout:     time.Hour,
		AbsoluteTimeout: 24 * time.Hour,
		MaxPerUser:      4,
	})
	ctx := context.Background()

	users := make([]uuid.UUID, 16)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(u uuid.UUID, i int) {
				defer wg.Done()
				_, err := r.Touch(ctx, key(u, i%4))
				assert.NoError(t, err)
			}(u, i)
		}
	}
	wg.Wait()

	for _, u := range users {
		n, err := r.Count(ctx, u)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 4)
	}
}

func TestCapNeverExceededUnderConcurrency(t *testing.T) {
	cfg := testConfig()
	r := NewMemoryRegistry(cfg)
	ctx := context.Background()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Touch(ctx, key(userID, i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := r.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxPerUser, n)
}
