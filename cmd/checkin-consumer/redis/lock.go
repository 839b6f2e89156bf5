package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// releaseScript deletes the lock only when it still holds our token. A worker
// that outlived its lease must not release a lock a successor now holds.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock is one held lease. The lease expires on its own; Release only shortens
// the exclusion window.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

func (l *Lock) Release(ctx context.Context) {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		// The lease will expire anyway; losing the early release is harmless.
		zap.S().Debugf("Failed to release lock %s: %s", l.key, err)
	}
}

// Acquire takes the lock for at most lease. It never blocks waiting for a
// holder: contention returns shared.ErrLockUnavailable immediately.
func (c *Connection) Acquire(ctx context.Context, key string, lease time.Duration) (shared.Lock, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, shared.ErrLockUnavailable
	}
	return &Lock{rdb: c.rdb, key: key, token: token}, nil
}
