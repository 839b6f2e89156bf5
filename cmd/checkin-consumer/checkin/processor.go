package checkin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/gate"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// Processor is the check-in state machine. One Process call handles one
// decoded envelope end to end: gating, monitor/environment resolution, the
// create-or-update transition and the environment status propagation, all
// inside a single unit of work guarded by a per-guid lock.
type Processor struct {
	store   Store
	locks   shared.Locker
	gate    Gate
	signals Signals
}

func NewProcessor(store Store, locks shared.Locker, g Gate, signals Signals) *Processor {
	if signals == nil {
		signals = NopSignals{}
	}
	return &Processor{store: store, locks: locks, gate: g, signals: signals}
}

// message carries one check-in through the pipeline after decoding.
type message struct {
	project   *shared.Project
	rawSlug   string
	slug      string
	rawConfig []byte
	status    shared.CheckInStatus
	duration  *int64
	startTime time.Time
	guid      uuid.UUID
	useLatest bool
	env       string
	traceID   string
}

// Process runs the full per-message pipeline. The returned Outcome is always
// valid; err is only set for unexpected faults (the caller logs and drops, it
// never propagates to the transport).
func (p *Processor) Process(ctx context.Context, wrapper *shared.CheckInMessage) (Outcome, error) {
	var params shared.CheckInPayload
	if err := json.Unmarshal(wrapper.Payload, &params); err != nil {
		zap.S().Infof("check-in payload failed validation: %s", err)
		return OutcomeFailedCheckInValidation, nil
	}

	startTime, err := parseStartTime(wrapper.StartTime)
	if err != nil {
		zap.S().Infof("check-in envelope has invalid start_time %q: %s", wrapper.StartTime, err)
		return OutcomeFailedCheckInValidation, nil
	}

	projectID, err := strconv.ParseInt(wrapper.ProjectID, 10, 64)
	if err != nil {
		zap.S().Infof("check-in envelope has invalid project_id %q: %s", wrapper.ProjectID, err)
		return OutcomeFailedCheckInValidation, nil
	}

	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return OutcomeError, fmt.Errorf("resolving project %d: %w", projectID, err)
	}

	slug := NormalizeSlug(params.MonitorSlug)

	environment := params.Environment
	if environment == "" {
		environment = shared.DefaultEnvironment
	}

	switch p.gate.Allow(ctx, project.OrganizationID, slug, environment) {
	case gate.DecisionBlocked:
		return OutcomeBlocked, nil
	case gate.DecisionRateLimited:
		return OutcomeRateLimited, nil
	}

	guid, err := uuid.Parse(params.CheckInID)
	if err != nil {
		zap.S().Infof("check-in guid failed validation: %q", params.CheckInID)
		return OutcomeFailedGuidValidation, nil
	}

	// The all-zero guid is the wildcard for "the latest open check-in". A
	// fresh guid is generated in case resolution falls through to creation.
	useLatest := guid == uuid.Nil
	if useLatest {
		guid = uuid.New()
	}

	status, ok := shared.CheckInStatusFromString(params.Status)
	if !ok {
		zap.S().Infof("check-in status failed validation: %q", params.Status)
		return OutcomeFailedCheckInValidation, nil
	}

	// Duration arrives in seconds, the row stores milliseconds.
	var duration *int64
	if params.Duration != nil {
		ms := int64(*params.Duration * 1000)
		if !ValidDuration(&ms) {
			zap.S().Infof("check-in duration failed validation: %d", ms)
			return OutcomeFailedCheckInValidation, nil
		}
		duration = &ms
	}

	m := &message{
		project:   project,
		rawSlug:   params.MonitorSlug,
		slug:      slug,
		rawConfig: params.MonitorConfig,
		status:    status,
		duration:  duration,
		startTime: startTime,
		guid:      guid,
		useLatest: useLatest,
		env:       environment,
		traceID:   params.Contexts.Trace.TraceID,
	}

	lock, err := p.locks.Acquire(ctx, "crons:checkin-lock:"+guid.String(), shared.CheckInLockLease)
	if err != nil {
		if errors.Is(err, shared.ErrLockUnavailable) {
			zap.S().Debugf("failed to acquire lock to create check-in: %s", guid)
			return OutcomeLockContention, nil
		}
		return OutcomeError, fmt.Errorf("acquiring check-in lock: %w", err)
	}
	defer lock.Release(ctx)

	outcome := OutcomeError
	err = p.store.InTransaction(ctx, func(tx Tx) error {
		var txErr error
		outcome, txErr = p.processLocked(ctx, tx, m)
		return txErr
	})
	if err != nil {
		return OutcomeError, err
	}
	return outcome, nil
}

// processLocked runs under the guid lock inside the transaction. Expected
// drops set the outcome and return nil so resolver side effects that already
// happened (monitor upsert) still commit; only real faults roll back.
func (p *Processor) processLocked(ctx context.Context, tx Tx, m *message) (Outcome, error) {
	monitor, monitorCreated, err := p.ensureMonitor(ctx, tx, m)
	if err != nil {
		if errors.Is(err, shared.ErrMonitorLimitExceeded) {
			zap.S().Debugf("monitor exceeds limits for organization: %d", m.project.OrganizationID)
			return OutcomeMonitorLimitExceeded, nil
		}
		return OutcomeError, err
	}
	if monitor == nil {
		zap.S().Infof("no monitor found for slug %q and no valid config supplied", m.slug)
		return OutcomeFailedMonitorValidation, nil
	}

	env, err := tx.EnsureEnvironment(ctx, monitor, m.env)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrEnvironmentLimitExceeded):
			zap.S().Debugf("monitor environment exceeds limits for monitor: %s", m.slug)
			return OutcomeEnvironmentLimitExceeded, nil
		case errors.Is(err, shared.ErrEnvironmentNameTooLong):
			zap.S().Debugf("monitor environment name too long: %s - %s", m.slug, m.env)
			return OutcomeEnvironmentNameTooLong, nil
		}
		return OutcomeError, err
	}

	existing, outcome, err := p.resolveCheckIn(ctx, tx, m, env)
	if err != nil || outcome != "" {
		return outcome, err
	}

	var checkIn *shared.MonitorCheckIn
	if existing != nil {
		outcome, err = p.updateExisting(ctx, tx, existing, m, monitor, env)
		checkIn = existing
	} else {
		checkIn, outcome, err = p.createCheckIn(ctx, tx, m, monitor, env, monitorCreated)
	}
	if err != nil || outcome != OutcomeComplete {
		return outcome, err
	}

	// Propagation happens in the same transaction as the check-in write so
	// the environment can never point at a rolled-back row.
	if checkIn.Status == shared.CheckInStatusError {
		if err := tx.MarkEnvironmentFailed(ctx, env.ID, m.startTime, m.traceID); err != nil {
			return OutcomeError, err
		}
	} else {
		var next *time.Time
		if n, err := NextExpectedCheckIn(monitor.Config, m.startTime); err == nil {
			next = &n
		}
		if err := tx.MarkEnvironmentOK(ctx, env.ID, m.startTime, next); err != nil {
			return OutcomeError, err
		}
	}

	return OutcomeComplete, nil
}

// resolveCheckIn finds the check-in an update should apply to, or nil when
// the message should create one. A non-empty outcome ends processing.
func (p *Processor) resolveCheckIn(ctx context.Context, tx Tx, m *message, env *shared.MonitorEnvironment) (*shared.MonitorCheckIn, Outcome, error) {
	if m.useLatest {
		existing, err := tx.LatestUnfinishedCheckIn(ctx, env.ID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, "", nil
			}
			return nil, OutcomeError, err
		}
		return existing, "", nil
	}

	existing, err := tx.GetCheckInByGUID(ctx, m.guid)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, "", nil
		}
		return nil, OutcomeError, err
	}
	// A guid that exists but belongs to another environment is a collision,
	// hostile or buggy input either way.
	if existing.EnvironmentID != env.ID {
		zap.S().Debugf("monitor environment does not match on existing guid: %s - %s", m.env, m.guid)
		return nil, OutcomeEnvironmentMismatch, nil
	}
	return existing, "", nil
}

// updateExisting applies an update to a resolved check-in, enforcing tenant
// match, terminal immutability and duration bounds. On success the passed
// struct reflects the new row state.
func (p *Processor) updateExisting(ctx context.Context, tx Tx, existing *shared.MonitorCheckIn, m *message, monitor *shared.Monitor, env *shared.MonitorEnvironment) (Outcome, error) {
	if existing.ProjectID != m.project.ID || existing.MonitorID != monitor.ID || existing.EnvironmentID != env.ID {
		zap.S().Debugf("check-in guid %s already associated with monitor %d, not payload monitor %d",
			existing.GUID, existing.MonitorID, monitor.ID)
		return OutcomeGuidMismatch, nil
	}

	if existing.Status.IsFinished() {
		zap.S().Debugf("check-in was finished: attempted update from %d to %d", existing.Status, m.status)
		return OutcomeCheckInFinished, nil
	}

	duration := m.duration
	if duration == nil {
		ms := m.startTime.Sub(existing.DateAdded).Milliseconds()
		duration = &ms
	}
	if !ValidDuration(duration) {
		zap.S().Debugf("check-in implicit duration is invalid: %d", *duration)
		return OutcomeFailedDurationCheck, nil
	}

	// date_updated is a heartbeat: it only advances while the job is still
	// running.
	dateUpdated := existing.DateUpdated
	if m.status == shared.CheckInStatusInProgress {
		dateUpdated = m.startTime
	}

	update := shared.CheckInUpdate{
		Status:      m.status,
		Duration:    duration,
		DateUpdated: dateUpdated,
		TimeoutAt:   NewTimeoutAt(existing, m.status, m.startTime),
	}
	if err := tx.UpdateCheckIn(ctx, existing.ID, update); err != nil {
		return OutcomeError, err
	}

	existing.Status = update.Status
	existing.Duration = update.Duration
	existing.DateUpdated = update.DateUpdated
	existing.TimeoutAt = update.TimeoutAt
	return OutcomeComplete, nil
}

// createCheckIn inserts a new check-in row, converging onto the existing one
// when a concurrent duplicate won the race.
func (p *Processor) createCheckIn(ctx context.Context, tx Tx, m *message, monitor *shared.Monitor, env *shared.MonitorEnvironment, monitorCreated bool) (*shared.MonitorCheckIn, Outcome, error) {
	// Infer the original start from the duration. The clock of this worker
	// may be off from what the relay reported.
	dateAdded := m.startTime
	if m.duration != nil {
		dateAdded = dateAdded.Add(-time.Duration(*m.duration) * time.Millisecond)
	}

	var expectedTime *time.Time
	if env.LastCheckIn != nil {
		if expected, err := NextExpectedCheckIn(monitor.Config, *env.LastCheckIn); err == nil {
			expectedTime = &expected
		}
	}

	checkIn := &shared.MonitorCheckIn{
		GUID:          m.guid,
		ProjectID:     m.project.ID,
		MonitorID:     monitor.ID,
		EnvironmentID: env.ID,
		Status:        m.status,
		Duration:      m.duration,
		DateAdded:     dateAdded,
		DateUpdated:   m.startTime,
		ExpectedTime:  expectedTime,
		TimeoutAt:     TimeoutAt(monitor.Config, m.status, dateAdded),
		Config:        monitor.Config,
		TraceID:       m.traceID,
	}

	created, existing, err := tx.CreateCheckIn(ctx, checkIn)
	if err != nil {
		return nil, OutcomeError, err
	}
	if !created {
		outcome, err := p.updateExisting(ctx, tx, existing, m, monitor, env)
		return existing, outcome, err
	}

	// A just-created monitor already fired its onboarding signal; firing both
	// for one message would double count the project.
	if !monitorCreated {
		p.signals.FirstCheckIn(m.project, monitor)
	}
	return checkIn, OutcomeComplete, nil
}

func parseStartTime(raw string) (time.Time, error) {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), nil
}
