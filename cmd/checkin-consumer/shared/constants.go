package shared

import (
	"errors"
	"time"
)

const (
	// MaxSlugLength caps normalized monitor slugs.
	MaxSlugLength = 50

	// CheckInQuotaLimit admissions per CheckInQuotaWindow for one
	// (organization, slug, environment) key.
	CheckInQuotaLimit  = 5
	CheckInQuotaWindow = 60 * time.Second

	// CheckInLockLease bounds how long a worker may hold the per-guid
	// creation lock; ClockLockLease bounds the pseudo-clock trigger lock.
	CheckInLockLease = 2 * time.Second
	ClockLockLease   = 5 * time.Second

	MaxMonitorsPerOrganization = 1500
	MaxEnvironmentsPerMonitor  = 1000
	MaxEnvironmentNameLength   = 64

	// DefaultEnvironment is used when the payload omits an environment name.
	DefaultEnvironment = "production"

	// DefaultMaxRuntime applies when a monitor config carries no max_runtime.
	// MaxRuntimeCap is the largest accepted max_runtime (28 days in minutes).
	DefaultMaxRuntime = 30
	MaxRuntimeCap     = 28 * 24 * 60

	// MaxCheckInDuration bounds stored durations (milliseconds).
	MaxCheckInDuration = int64(1<<31 - 1)
)

var (
	ErrNotFound                 = errors.New("record not found")
	ErrLockUnavailable          = errors.New("unable to acquire lock")
	ErrMonitorLimitExceeded     = errors.New("monitor limit exceeded for organization")
	ErrEnvironmentLimitExceeded = errors.New("environment limit exceeded for monitor")
	ErrEnvironmentNameTooLong   = errors.New("environment name exceeds length bound")
)
