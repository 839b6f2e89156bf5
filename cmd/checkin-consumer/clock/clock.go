// Package clock derives a once-per-minute maintenance trigger from ordinary
// check-in traffic. It is only active in high-volume mode, where no dedicated
// clock pulse producer exists and the message stream itself substitutes for
// one.
package clock

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

const lockKey = "crons:clock-tick"

var (
	triggeredCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_consumer_clock_triggered_total",
		Help: "Maintenance dispatches triggered via the pseudo clock",
	})
	delayGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkin_consumer_clock_delay_seconds",
		Help: "Delay of the pseudo clock behind wall time; grows with consumer backlog",
	})
	skippedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_consumer_clock_skipped_minutes_total",
		Help: "Minutes the pseudo clock skipped over",
	})
)

// WatermarkStore persists the last minute the maintenance tasks were
// triggered at, shared across all consumer instances.
type WatermarkStore interface {
	// GetWatermark returns the stored unix timestamp. ok is false when no
	// watermark has been written yet.
	GetWatermark(ctx context.Context) (ts int64, ok bool, err error)
	SetWatermark(ctx context.Context, ts int64) error
}

// DispatchFunc fires the missed/timed-out detection tasks for a minute.
type DispatchFunc func(ts time.Time)

// NopDispatch does nothing. The detection sweeps are disabled by policy while
// the pseudo clock is validated against skipped minutes.
func NopDispatch(time.Time) {}

type Trigger struct {
	watermarks WatermarkStore
	locks      shared.Locker
	dispatch   DispatchFunc
}

func NewTrigger(watermarks WatermarkStore, locks shared.Locker, dispatch DispatchFunc) *Trigger {
	if dispatch == nil {
		dispatch = NopDispatch
	}
	return &Trigger{watermarks: watermarks, locks: locks, dispatch: dispatch}
}

// Tick advances the pseudo clock using one message's timestamp. The cheap
// path (same minute as the watermark) takes a single read and no lock; lock
// contention means another worker is handling the minute and is not an error.
// The whole mechanism is at-least-once per minute, best effort.
func (t *Trigger) Tick(ctx context.Context, ts time.Time) error {
	reference := ts.Truncate(time.Minute).Unix()

	last, hasLast, err := t.watermarks.GetWatermark(ctx)
	if err != nil {
		return err
	}
	if hasLast && last == reference {
		return nil
	}

	lock, err := t.locks.Acquire(ctx, lockKey, shared.ClockLockLease)
	if err != nil {
		if errors.Is(err, shared.ErrLockUnavailable) {
			// Another message processor is handling this minute.
			return nil
		}
		return err
	}
	defer lock.Release(ctx)

	// Re-read under the lock: another worker may have finished this minute
	// between the first read and the acquire.
	last, hasLast, err = t.watermarks.GetWatermark(ctx)
	if err != nil {
		return err
	}
	if hasLast && last == reference {
		return nil
	}

	delayGauge.Set(time.Since(time.Unix(reference, 0)).Seconds())
	triggeredCounter.Inc()

	// If more than exactly one minute passed, task runs were skipped. That is
	// a problem worth reporting, not just counting.
	if hasLast && last+60 != reference {
		skippedCounter.Inc()
		zap.S().Errorf("pseudo clock skipped minutes: last=%d reference=%d", last, reference)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("last_ts", last)
			scope.SetExtra("reference_ts", reference)
			sentry.CaptureMessage("monitor task dispatch minute skipped")
		})
	}

	t.dispatch(ts)

	return t.watermarks.SetWatermark(ctx, reference)
}
