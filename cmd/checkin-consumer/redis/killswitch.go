package redis

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// killswitchKey is a set of organization ids whose check-in ingestion is
// switched off. Operators mutate it out of band.
const killswitchKey = "crons:killswitch:organizations"

// killswitchCacheTTL bounds how stale a killswitch decision may be. The
// in-memory cache keeps the hot path off redis for every message.
const killswitchCacheTTL = 10 * time.Second

// Matches reports whether check-in ingestion is disabled for the
// organization. Fails open on redis errors.
func (c *Connection) Matches(ctx context.Context, organizationID int64) bool {
	org := strconv.FormatInt(organizationID, 10)

	if cached, found := c.killswitch.Get(org); found {
		return cached.(bool)
	}

	blocked, err := c.rdb.SIsMember(ctx, killswitchKey, org).Result()
	if err != nil {
		zap.S().Warnf("Failed to check killswitch for organization %s: %s", org, err)
		return false
	}

	c.killswitch.SetDefault(org, blocked)
	return blocked
}
