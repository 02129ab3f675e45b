package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another holder")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out named locks using SET NX with a TTL. The TTL bounds how
// long a crashed holder can block others.
type Locker struct {
	client *Client
	logger *zap.Logger
	prefix string
}

// NewLocker creates a locker whose keys live under prefix.
func NewLocker(client *Client, logger *zap.Logger, prefix string) *Locker {
	if prefix == "" {
		prefix = "lock"
	}
	return &Locker{client: client, logger: logger, prefix: prefix}
}

func (l *Locker) buildKey(name string) string {
	return fmt.Sprintf("%s:%s", l.prefix, name)
}

// Acquire takes the named lock for ttl. It returns ErrLockHeld when another
// holder owns it. The returned release function is safe to call once the
// lock has expired.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := l.buildKey(name)
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return nil, ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
		}
	}
	return release, nil
}
