package checkin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/gate"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// Store opens the unit of work the whole per-message pipeline runs in.
type Store interface {
	GetProject(ctx context.Context, projectID int64) (*shared.Project, error)

	// InTransaction runs fn inside one transaction. fn returning an error
	// rolls everything back; otherwise the unit commits as a whole.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the repository surface available inside a unit of work. Reads that
// feed later writes take row-level locks.
type Tx interface {
	GetMonitorBySlug(ctx context.Context, organizationID, projectID int64, slug string) (*shared.Monitor, error)

	// CreateMonitor inserts the monitor, failing with
	// shared.ErrMonitorLimitExceeded when the organization is at capacity.
	CreateMonitor(ctx context.Context, monitor *shared.Monitor) error

	UpdateMonitorConfig(ctx context.Context, monitorID int64, config shared.MonitorConfig, now time.Time) error

	// EnsureEnvironment gets or creates the environment for (monitor, name),
	// failing with shared.ErrEnvironmentLimitExceeded or
	// shared.ErrEnvironmentNameTooLong.
	EnsureEnvironment(ctx context.Context, monitor *shared.Monitor, name string) (*shared.MonitorEnvironment, error)

	// LatestUnfinishedCheckIn returns the newest non-finished check-in for the
	// environment, locked for update. shared.ErrNotFound when none exists.
	LatestUnfinishedCheckIn(ctx context.Context, environmentID int64) (*shared.MonitorCheckIn, error)

	// GetCheckInByGUID returns the check-in locked for update, or
	// shared.ErrNotFound.
	GetCheckInByGUID(ctx context.Context, guid uuid.UUID) (*shared.MonitorCheckIn, error)

	// CreateCheckIn atomically creates the check-in keyed by its guid. When a
	// racing worker already created the row, created is false and existing
	// holds that row, locked for update.
	CreateCheckIn(ctx context.Context, checkIn *shared.MonitorCheckIn) (created bool, existing *shared.MonitorCheckIn, err error)

	UpdateCheckIn(ctx context.Context, checkInID int64, update shared.CheckInUpdate) error

	MarkEnvironmentOK(ctx context.Context, environmentID int64, lastCheckIn time.Time, nextCheckIn *time.Time) error
	MarkEnvironmentFailed(ctx context.Context, environmentID int64, ts time.Time, traceID string) error
}

// Gate is the admission decision over (organization, slug, environment).
type Gate interface {
	Allow(ctx context.Context, organizationID int64, slug string, environment string) gate.Decision
}

// Signals receives the fire-and-forget onboarding events. Implementations
// must not fail the check-in.
type Signals interface {
	FirstMonitorCreated(project *shared.Project, monitor *shared.Monitor)
	FirstCheckIn(project *shared.Project, monitor *shared.Monitor)
}

// NopSignals discards all signals.
type NopSignals struct{}

func (NopSignals) FirstMonitorCreated(*shared.Project, *shared.Monitor) {}
func (NopSignals) FirstCheckIn(*shared.Project, *shared.Monitor)        {}
