package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// watermarkKey stores the last minute the maintenance tasks were triggered
// at, shared across all consumer instances. Only used in high-volume mode.
const watermarkKey = "crons:clock:last-tick"

func (c *Connection) GetWatermark(ctx context.Context) (int64, bool, error) {
	raw, err := c.rdb.Get(ctx, watermarkKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading clock watermark: %w", err)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("clock watermark is not a timestamp: %w", err)
	}
	return ts, true, nil
}

func (c *Connection) SetWatermark(ctx context.Context, ts int64) error {
	if err := c.rdb.Set(ctx, watermarkKey, strconv.FormatInt(ts, 10), 0).Err(); err != nil {
		return fmt.Errorf("writing clock watermark: %w", err)
	}
	return nil
}
