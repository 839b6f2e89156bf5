package checkin

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

const (
	ScheduleTypeCrontab  = "crontab"
	ScheduleTypeInterval = "interval"
)

// cronParser accepts standard five-field crontab expressions, matching what
// SDKs send in monitor_config.schedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var intervalUnits = map[string]struct{}{
	"year":   {},
	"month":  {},
	"week":   {},
	"day":    {},
	"hour":   {},
	"minute": {},
}

// rawMonitorConfig mirrors the wire shape of monitor_config. The schedule
// field is either a crontab string or an [value, unit] interval pair, so it
// has to be decoded in two steps.
type rawMonitorConfig struct {
	ScheduleType  string          `json:"schedule_type"`
	Schedule      json.RawMessage `json:"schedule"`
	CheckInMargin *int64          `json:"checkin_margin"`
	MaxRuntime    *int64          `json:"max_runtime"`
	Timezone      string          `json:"timezone"`
}

// ValidateConfig parses and validates an inbound monitor_config payload.
// A malformed config is an error for the caller to tolerate, not a reason to
// drop the check-in.
func ValidateConfig(raw json.RawMessage) (*shared.MonitorConfig, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty monitor config")
	}

	var rc rawMonitorConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("malformed monitor config: %w", err)
	}
	if len(rc.Schedule) == 0 {
		return nil, errors.New("monitor config has no schedule")
	}

	cfg := shared.MonitorConfig{ScheduleType: rc.ScheduleType}

	// Infer the schedule type from the schedule shape when unset.
	if cfg.ScheduleType == "" {
		if rc.Schedule[0] == '[' {
			cfg.ScheduleType = ScheduleTypeInterval
		} else {
			cfg.ScheduleType = ScheduleTypeCrontab
		}
	}

	switch cfg.ScheduleType {
	case ScheduleTypeCrontab:
		var expr string
		if err := json.Unmarshal(rc.Schedule, &expr); err != nil {
			return nil, fmt.Errorf("crontab schedule is not a string: %w", err)
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return nil, fmt.Errorf("invalid crontab expression %q: %w", expr, err)
		}
		cfg.Schedule = expr
	case ScheduleTypeInterval:
		var pair []json.RawMessage
		if err := json.Unmarshal(rc.Schedule, &pair); err != nil || len(pair) != 2 {
			return nil, errors.New("interval schedule must be a [value, unit] pair")
		}
		var value int64
		var unit string
		if err := json.Unmarshal(pair[0], &value); err != nil {
			return nil, fmt.Errorf("interval value is not an integer: %w", err)
		}
		if err := json.Unmarshal(pair[1], &unit); err != nil {
			return nil, fmt.Errorf("interval unit is not a string: %w", err)
		}
		if value < 1 {
			return nil, fmt.Errorf("interval value must be positive, got %d", value)
		}
		if _, ok := intervalUnits[unit]; !ok {
			return nil, fmt.Errorf("unknown interval unit %q", unit)
		}
		cfg.IntervalValue = value
		cfg.IntervalUnit = unit
	default:
		return nil, fmt.Errorf("unknown schedule type %q", cfg.ScheduleType)
	}

	if rc.CheckInMargin != nil {
		if *rc.CheckInMargin < 0 {
			return nil, fmt.Errorf("checkin_margin must not be negative, got %d", *rc.CheckInMargin)
		}
		cfg.CheckInMargin = *rc.CheckInMargin
	}

	if rc.MaxRuntime != nil {
		if *rc.MaxRuntime < 1 || *rc.MaxRuntime > shared.MaxRuntimeCap {
			return nil, fmt.Errorf("max_runtime out of range: %d", *rc.MaxRuntime)
		}
		cfg.MaxRuntime = *rc.MaxRuntime
	}

	if rc.Timezone != "" {
		if _, err := time.LoadLocation(rc.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", rc.Timezone, err)
		}
		cfg.Timezone = rc.Timezone
	}

	return &cfg, nil
}
