// Package redislock is the distributed lock.Manager: a thin struct over
// *redis.Client constructed from a parsed Redis URL, using the standard
// SET NX PX / Lua compare-and-delete pattern for safe release.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vaultline/cashops/internal/lock"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`

// Manager is a Redis-backed lock.Manager.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

var _ lock.Manager = (*Manager)(nil)

// New wraps an already-connected Redis client. ttl bounds how long a
// lock survives a crashed holder; poll is the retry interval for
// blocking Acquire.
func New(client *redis.Client, ttl, poll time.Duration) *Manager {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if poll == 0 {
		poll = 100 * time.Millisecond
	}
	return &Manager{client: client, ttl: ttl, poll: poll}
}

func lockKey(key string) string { return "cashops:lock:" + key }

func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		if release, ok, err := m.TryAcquire(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, lockKey(key), token, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redislock setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.client.Eval(releaseCtx, releaseScript, []string{lockKey(key)}, token).Err()
	}
	return release, true, nil
}
