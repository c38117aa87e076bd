package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Both scripts act only while the key still holds the caller's token.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager with SET NX PX and token-checked
// Lua scripts for refresh and release.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.rdb,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func lockKey(key string) string { return "convbot:lock:" + key }

// Acquire takes the lock for key. It returns domain.ErrLockHeld if another
// process holds it. The returned unlock is idempotent and runs on a fresh
// context so it still works after the caller's context is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			delete(lm.tokens, key)
			lm.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(ctx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Refresh extends a lock this manager holds. It returns domain.ErrLockLost
// when the key expired or was taken over.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, held := lm.tokens[key]
	lm.mu.Unlock()
	if !held {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrLockLost)
	}

	n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrLockLost)
	}
	return nil
}

var _ domain.LockManager = (*LockManager)(nil)
