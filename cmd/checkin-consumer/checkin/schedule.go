package checkin

import (
	"fmt"
	"time"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// NextExpectedCheckIn computes when the next check-in after lastCheckIn is
// expected: the next schedule point in the monitor's timezone plus the
// configured margin.
func NextExpectedCheckIn(cfg shared.MonitorConfig, lastCheckIn time.Time) (time.Time, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	base := lastCheckIn.In(loc)

	var next time.Time
	switch cfg.ScheduleType {
	case ScheduleTypeCrontab:
		sched, err := cronParser.Parse(cfg.Schedule)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid crontab expression %q: %w", cfg.Schedule, err)
		}
		next = sched.Next(base)
	case ScheduleTypeInterval:
		next = addInterval(base, cfg.IntervalUnit, cfg.IntervalValue)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", cfg.ScheduleType)
	}

	return next.Add(time.Duration(cfg.CheckInMargin) * time.Minute), nil
}

func addInterval(base time.Time, unit string, value int64) time.Time {
	switch unit {
	case "year":
		return base.AddDate(int(value), 0, 0)
	case "month":
		return base.AddDate(0, int(value), 0)
	case "week":
		return base.AddDate(0, 0, int(value)*7)
	case "day":
		return base.AddDate(0, 0, int(value))
	case "hour":
		return base.Add(time.Duration(value) * time.Hour)
	default:
		return base.Add(time.Duration(value) * time.Minute)
	}
}

// TimeoutAt returns the deadline after which an in-progress check-in should be
// considered timed out by the external sweep. Only in-progress check-ins carry
// a deadline.
func TimeoutAt(cfg shared.MonitorConfig, status shared.CheckInStatus, start time.Time) *time.Time {
	if status != shared.CheckInStatusInProgress {
		return nil
	}
	runtime := cfg.MaxRuntime
	if runtime <= 0 {
		runtime = shared.DefaultMaxRuntime
	}
	t := start.Add(time.Duration(runtime) * time.Minute)
	return &t
}

// NewTimeoutAt recomputes the deadline for an update against an existing
// check-in, using the config frozen into the row at creation time. Leaving
// the in-progress state clears the deadline.
func NewTimeoutAt(existing *shared.MonitorCheckIn, status shared.CheckInStatus, ts time.Time) *time.Time {
	return TimeoutAt(existing.Config, status, ts)
}

// ValidDuration reports whether a millisecond duration fits the accepted
// range. A nil duration is always acceptable.
func ValidDuration(ms *int64) bool {
	if ms == nil {
		return true
	}
	return *ms >= 0 && *ms <= shared.MaxCheckInDuration
}
