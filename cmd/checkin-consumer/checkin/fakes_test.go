package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/gate"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// fakeStore is an in-memory Store plus Tx. InTransaction applies fn directly;
// rollback is not modeled since the state machine never needs it for the
// expected drop paths.
type fakeStore struct {
	projects map[int64]*shared.Project

	monitors     []*shared.Monitor
	environments []*shared.MonitorEnvironment
	checkIns     []*shared.MonitorCheckIn
	nextID       int64

	// Caps for limit testing. Zero means unlimited.
	monitorLimit     int
	environmentLimit int

	// incidentTraces records the trace id passed to MarkEnvironmentFailed.
	incidentTraces map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: map[int64]*shared.Project{
			1: {ID: 1, OrganizationID: 42},
		},
		incidentTraces: map[int64]string{},
	}
}

func (s *fakeStore) GetProject(_ context.Context, projectID int64) (*shared.Project, error) {
	project, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", projectID, shared.ErrNotFound)
	}
	return project, nil
}

func (s *fakeStore) InTransaction(_ context.Context, fn func(tx Tx) error) error {
	return fn(s)
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) GetMonitorBySlug(_ context.Context, organizationID, _ int64, slug string) (*shared.Monitor, error) {
	for _, monitor := range s.monitors {
		if monitor.OrganizationID == organizationID && monitor.Slug == slug {
			return monitor, nil
		}
	}
	return nil, fmt.Errorf("monitor %q: %w", slug, shared.ErrNotFound)
}

func (s *fakeStore) CreateMonitor(_ context.Context, monitor *shared.Monitor) error {
	if s.monitorLimit > 0 && len(s.monitors) >= s.monitorLimit {
		return shared.ErrMonitorLimitExceeded
	}
	monitor.ID = s.id()
	s.monitors = append(s.monitors, monitor)
	return nil
}

func (s *fakeStore) UpdateMonitorConfig(_ context.Context, monitorID int64, config shared.MonitorConfig, now time.Time) error {
	for _, monitor := range s.monitors {
		if monitor.ID == monitorID {
			monitor.Config = config
			monitor.DateUpdated = now
			return nil
		}
	}
	return fmt.Errorf("monitor %d: %w", monitorID, shared.ErrNotFound)
}

func (s *fakeStore) EnsureEnvironment(_ context.Context, monitor *shared.Monitor, name string) (*shared.MonitorEnvironment, error) {
	for _, environment := range s.environments {
		if environment.MonitorID == monitor.ID && environment.Name == name {
			return environment, nil
		}
	}
	if len(name) > shared.MaxEnvironmentNameLength {
		return nil, shared.ErrEnvironmentNameTooLong
	}
	if s.environmentLimit > 0 && len(s.environments) >= s.environmentLimit {
		return nil, shared.ErrEnvironmentLimitExceeded
	}
	environment := &shared.MonitorEnvironment{
		ID:        s.id(),
		MonitorID: monitor.ID,
		Name:      name,
		Status:    shared.EnvironmentStatusOK,
	}
	s.environments = append(s.environments, environment)
	return environment, nil
}

func (s *fakeStore) LatestUnfinishedCheckIn(_ context.Context, environmentID int64) (*shared.MonitorCheckIn, error) {
	var latest *shared.MonitorCheckIn
	for _, checkIn := range s.checkIns {
		if checkIn.EnvironmentID != environmentID || checkIn.Status.IsFinished() {
			continue
		}
		if latest == nil || checkIn.DateAdded.After(latest.DateAdded) {
			latest = checkIn
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("open check-in for environment %d: %w", environmentID, shared.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeStore) GetCheckInByGUID(_ context.Context, guid uuid.UUID) (*shared.MonitorCheckIn, error) {
	for _, checkIn := range s.checkIns {
		if checkIn.GUID == guid {
			copied := *checkIn
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("check-in %s: %w", guid, shared.ErrNotFound)
}

func (s *fakeStore) CreateCheckIn(ctx context.Context, checkIn *shared.MonitorCheckIn) (bool, *shared.MonitorCheckIn, error) {
	if existing, err := s.GetCheckInByGUID(ctx, checkIn.GUID); err == nil {
		return false, existing, nil
	}
	checkIn.ID = s.id()
	copied := *checkIn
	s.checkIns = append(s.checkIns, &copied)
	return true, nil, nil
}

func (s *fakeStore) UpdateCheckIn(_ context.Context, checkInID int64, update shared.CheckInUpdate) error {
	for _, checkIn := range s.checkIns {
		if checkIn.ID == checkInID {
			checkIn.Status = update.Status
			checkIn.Duration = update.Duration
			checkIn.DateUpdated = update.DateUpdated
			checkIn.TimeoutAt = update.TimeoutAt
			return nil
		}
	}
	return fmt.Errorf("check-in %d: %w", checkInID, shared.ErrNotFound)
}

func (s *fakeStore) MarkEnvironmentOK(_ context.Context, environmentID int64, lastCheckIn time.Time, nextCheckIn *time.Time) error {
	for _, environment := range s.environments {
		if environment.ID == environmentID {
			environment.Status = shared.EnvironmentStatusOK
			environment.LastCheckIn = &lastCheckIn
			environment.NextCheckIn = nextCheckIn
			return nil
		}
	}
	return fmt.Errorf("environment %d: %w", environmentID, shared.ErrNotFound)
}

func (s *fakeStore) MarkEnvironmentFailed(_ context.Context, environmentID int64, ts time.Time, traceID string) error {
	for _, environment := range s.environments {
		if environment.ID == environmentID {
			environment.Status = shared.EnvironmentStatusError
			environment.LastCheckIn = &ts
			s.incidentTraces[environmentID] = traceID
			return nil
		}
	}
	return fmt.Errorf("environment %d: %w", environmentID, shared.ErrNotFound)
}

func (s *fakeStore) checkInByGUID(guid uuid.UUID) *shared.MonitorCheckIn {
	for _, checkIn := range s.checkIns {
		if checkIn.GUID == guid {
			return checkIn
		}
	}
	return nil
}

// fakeLocker hands out locks unless a key is marked contended.
type fakeLocker struct {
	contended map[string]bool
	acquired  []string
}

type fakeLock struct{}

func (fakeLock) Release(context.Context) {}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (shared.Lock, error) {
	if l.contended[key] {
		return nil, shared.ErrLockUnavailable
	}
	l.acquired = append(l.acquired, key)
	return fakeLock{}, nil
}

// fakeGate returns a fixed decision.
type fakeGate struct {
	decision gate.Decision
}

func (g fakeGate) Allow(context.Context, int64, string, string) gate.Decision {
	return g.decision
}

// countingSignals records onboarding signal invocations.
type countingSignals struct {
	firstMonitor int
	firstCheckIn int
}

func (s *countingSignals) FirstMonitorCreated(*shared.Project, *shared.Monitor) { s.firstMonitor++ }
func (s *countingSignals) FirstCheckIn(*shared.Project, *shared.Monitor)       { s.firstCheckIn++ }
