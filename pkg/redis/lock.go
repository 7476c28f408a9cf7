package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides expiring exclusive locks (SET NX PX + compare-and-delete)
// ⭐ SSOT: cross-process locks live here only
type Locker struct {
	client *Client
	prefix string
}

// NewLocker creates a new locker
func NewLocker(client *Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (l *Locker) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, name)
}

// Acquire tries once to take the lock. It returns the owner token when taken,
// or ok=false when someone else holds it. Disabled Redis always grants.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	if !l.client.Enabled() {
		return "", true, nil
	}

	token = uuid.NewString()
	ok, err = l.client.Redis().SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock if token still owns it
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if !l.client.Enabled() {
		return nil
	}

	if err := unlockScript.Run(ctx, l.client.Redis(), []string{l.key(name)}, token).Err(); err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	return nil
}
