package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// IsLimited counts one admission attempt against key and reports whether the
// fixed window quota is used up. The window is aligned to wall time so every
// consumer instance shares it.
//
// Counting is not rolled back when the message is dropped downstream, and a
// redis failure fails open: dropping valid check-ins hurts more than briefly
// over-admitting.
func (c *Connection) IsLimited(ctx context.Context, key string, limit int, window int) bool {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(window))

	count, err := c.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		zap.S().Warnf("Failed to increment rate limit counter %s: %s", windowKey, err)
		return false
	}
	if count == 1 {
		// First hit in this window owns setting the expiry.
		if err := c.rdb.Expire(ctx, windowKey, time.Duration(window)*time.Second).Err(); err != nil {
			zap.S().Warnf("Failed to expire rate limit counter %s: %s", windowKey, err)
		}
	}

	return count > int64(limit)
}
