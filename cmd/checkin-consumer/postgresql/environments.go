package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// EnsureEnvironment gets or creates the environment row for (monitor, name).
// The insert path enforces the per-monitor cap and the name length bound.
func (t *Tx) EnsureEnvironment(ctx context.Context, monitor *shared.Monitor, name string) (*shared.MonitorEnvironment, error) {
	environment := shared.MonitorEnvironment{
		MonitorID: monitor.ID,
		Name:      name,
	}
	err := t.tx.QueryRow(ctx, `
		SELECT id, status, last_checkin, next_checkin
		FROM monitor_environments
		WHERE monitor_id = $1 AND name = $2
		FOR UPDATE`,
		monitor.ID, name,
	).Scan(&environment.ID, &environment.Status, &environment.LastCheckIn, &environment.NextCheckIn)
	if err == nil {
		return &environment, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("looking up environment %q of monitor %d: %w", name, monitor.ID, err)
	}

	if utf8.RuneCountInString(name) > shared.MaxEnvironmentNameLength {
		return nil, shared.ErrEnvironmentNameTooLong
	}

	var count int64
	err = t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM monitor_environments WHERE monitor_id = $1`,
		monitor.ID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("counting environments of monitor %d: %w", monitor.ID, err)
	}
	if count >= shared.MaxEnvironmentsPerMonitor {
		return nil, shared.ErrEnvironmentLimitExceeded
	}

	environment.Status = shared.EnvironmentStatusOK
	err = t.tx.QueryRow(ctx, `
		INSERT INTO monitor_environments (monitor_id, name, status)
		VALUES ($1, $2, $3)
		RETURNING id`,
		monitor.ID, name, environment.Status,
	).Scan(&environment.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting environment %q of monitor %d: %w", name, monitor.ID, err)
	}
	return &environment, nil
}

// MarkEnvironmentOK records a healthy check-in on the environment, advancing
// its schedule bookkeeping and clearing any open incident trace.
func (t *Tx) MarkEnvironmentOK(ctx context.Context, environmentID int64, lastCheckIn time.Time, nextCheckIn *time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE monitor_environments
		SET status = $1, last_checkin = $2, next_checkin = $3, incident_trace_id = NULL
		WHERE id = $4`,
		shared.EnvironmentStatusOK, lastCheckIn, nextCheckIn, environmentID)
	if err != nil {
		return fmt.Errorf("marking environment %d ok: %w", environmentID, err)
	}
	return nil
}

// MarkEnvironmentFailed flips the environment into its error state in the
// same transaction as the failed check-in, keeping the two in lockstep.
func (t *Tx) MarkEnvironmentFailed(ctx context.Context, environmentID int64, ts time.Time, traceID string) error {
	var trace *string
	if traceID != "" {
		trace = &traceID
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE monitor_environments
		SET status = $1, last_checkin = $2, incident_trace_id = $3
		WHERE id = $4`,
		shared.EnvironmentStatusError, ts, trace, environmentID)
	if err != nil {
		return fmt.Errorf("marking environment %d failed: %w", environmentID, err)
	}
	return nil
}
