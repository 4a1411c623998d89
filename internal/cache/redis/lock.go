package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evetabi/betledger/internal/domain"
)

// Deletes the key only while it still holds our token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker hands out TTL-bounded locks keyed by name.
type Locker struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewLocker returns a Locker on c.
func NewLocker(c *Client) *Locker {
	return &Locker{rdb: c.rdb, unlock: redis.NewScript(unlockLua)}
}

// Acquire takes the lock or returns domain.ErrLockNotAcquired. The returned
// release func is idempotent and uses its own short deadline.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := "lock:" + key

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockNotAcquired
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlock.Run(ctx, l.rdb, []string{lk}, token).Err()
	}, nil
}
