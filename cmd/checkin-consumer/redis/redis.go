// Package redis holds the shared-coordination primitives every consumer
// instance needs: distributed locks, the check-in rate limiter, the
// organization killswitch set and the pseudo-clock watermark.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
	"github.com/patrickmn/go-cache"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

type Connection struct {
	rdb        *redis.Client
	killswitch *cache.Cache
}

var conn *Connection
var once sync.Once

func GetOrInit() *Connection {
	once.Do(func() {
		zap.S().Debugf("Setting up redis")
		redisURI, err := env.GetAsString("REDIS_URI", false, "redis:6379")
		if err != nil {
			zap.S().Fatalf("Failed to get REDIS_URI from env: %s", err)
		}
		redisPassword, err := env.GetAsString("REDIS_PASSWORD", false, "")
		if err != nil {
			zap.S().Fatalf("Failed to get REDIS_PASSWORD from env: %s", err)
		}
		redisDB, err := env.GetAsInt("REDIS_DB", false, 0)
		if err != nil {
			zap.S().Fatalf("Failed to get REDIS_DB from env: %s", err)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     redisURI,
			Password: redisPassword,
			DB:       redisDB,
		})

		pingCtx, cncl := get5SecondContext()
		defer cncl()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			zap.S().Fatalf("Failed to ping redis: %s", err)
		}

		conn = &Connection{
			rdb:        rdb,
			killswitch: cache.New(killswitchCacheTTL, 2*killswitchCacheTTL),
		}
	})
	return conn
}

func (c *Connection) IsAvailable() bool {
	if c.rdb == nil {
		return false
	}
	ctx, cncl := get5SecondContext()
	defer cncl()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		zap.S().Debugf("Failed to ping redis: %s", err)
		return false
	}
	return true
}

func GetHealthCheck() healthcheck.Check {
	return func() error {
		if GetOrInit().IsAvailable() {
			return nil
		}
		return errors.New("healthcheck failed to reach redis")
	}
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
