// Package gate decides whether a check-in is admitted: a per-organization
// killswitch that can unconditionally deny, followed by a fixed-quota rate
// limit per (organization, monitor slug, environment) key.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

type Decision int

const (
	DecisionAllow Decision = iota
	DecisionBlocked
	DecisionRateLimited
)

// RateLimiter counts an admission attempt for key and reports whether the
// quota is exhausted. The count is never rolled back, regardless of what
// happens to the message downstream.
type RateLimiter interface {
	IsLimited(ctx context.Context, key string, limit int, window int) bool
}

// Killswitch reports whether check-in ingestion is switched off for an
// organization.
type Killswitch interface {
	Matches(ctx context.Context, organizationID int64) bool
}

type Gate struct {
	limiter    RateLimiter
	killswitch Killswitch
}

func New(limiter RateLimiter, killswitch Killswitch) *Gate {
	return &Gate{limiter: limiter, killswitch: killswitch}
}

// Allow gates one check-in. The rate limit counter is incremented on every
// call that reaches it, whether or not the message is later dropped.
func (g *Gate) Allow(ctx context.Context, organizationID int64, slug string, environment string) Decision {
	if g.killswitch.Matches(ctx, organizationID) {
		zap.S().Debugf("check-in blocked via killswitch: %d - %s", organizationID, slug)
		return DecisionBlocked
	}

	key := fmt.Sprintf("checkins:%d:%s:%s", organizationID, slug, environment)
	if g.limiter.IsLimited(ctx, key, shared.CheckInQuotaLimit, int(shared.CheckInQuotaWindow.Seconds())) {
		zap.S().Debugf("check-in rate limited: %s", slug)
		return DecisionRateLimited
	}

	return DecisionAllow
}
