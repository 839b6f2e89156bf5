package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

const checkInColumns = `id, guid, project_id, monitor_id, environment_id, status,
	duration, date_added, date_updated, expected_time, timeout_at, config, trace_id`

func scanCheckIn(row pgx.Row) (*shared.MonitorCheckIn, error) {
	var checkIn shared.MonitorCheckIn
	var rawConfig []byte
	var trace *string
	err := row.Scan(&checkIn.ID, &checkIn.GUID, &checkIn.ProjectID, &checkIn.MonitorID,
		&checkIn.EnvironmentID, &checkIn.Status, &checkIn.Duration, &checkIn.DateAdded,
		&checkIn.DateUpdated, &checkIn.ExpectedTime, &checkIn.TimeoutAt, &rawConfig, &trace)
	if err != nil {
		return nil, err
	}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &checkIn.Config); err != nil {
			return nil, fmt.Errorf("decoding config of check-in %d: %w", checkIn.ID, err)
		}
	}
	if trace != nil {
		checkIn.TraceID = *trace
	}
	return &checkIn, nil
}

// LatestUnfinishedCheckIn returns the newest check-in of the environment that
// is still open, locked for update.
func (t *Tx) LatestUnfinishedCheckIn(ctx context.Context, environmentID int64) (*shared.MonitorCheckIn, error) {
	checkIn, err := scanCheckIn(t.tx.QueryRow(ctx, `
		SELECT `+checkInColumns+`
		FROM monitor_checkins
		WHERE environment_id = $1 AND status = $2
		ORDER BY date_added DESC
		LIMIT 1
		FOR UPDATE`,
		environmentID, shared.CheckInStatusInProgress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("open check-in for environment %d: %w", environmentID, shared.ErrNotFound)
		}
		return nil, err
	}
	return checkIn, nil
}

func (t *Tx) GetCheckInByGUID(ctx context.Context, guid uuid.UUID) (*shared.MonitorCheckIn, error) {
	checkIn, err := scanCheckIn(t.tx.QueryRow(ctx, `
		SELECT `+checkInColumns+`
		FROM monitor_checkins
		WHERE guid = $1
		FOR UPDATE`,
		guid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("check-in %s: %w", guid, shared.ErrNotFound)
		}
		return nil, err
	}
	return checkIn, nil
}

// CreateCheckIn inserts the check-in keyed by its guid. ON CONFLICT DO
// NOTHING makes the insert race-safe: when another worker won, the existing
// row is re-read under lock and returned instead.
func (t *Tx) CreateCheckIn(ctx context.Context, checkIn *shared.MonitorCheckIn) (bool, *shared.MonitorCheckIn, error) {
	rawConfig, err := json.Marshal(checkIn.Config)
	if err != nil {
		return false, nil, fmt.Errorf("encoding check-in config: %w", err)
	}
	var trace *string
	if checkIn.TraceID != "" {
		trace = &checkIn.TraceID
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO monitor_checkins
			(guid, project_id, monitor_id, environment_id, status, duration,
			 date_added, date_updated, expected_time, timeout_at, config, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (guid) DO NOTHING
		RETURNING id`,
		checkIn.GUID, checkIn.ProjectID, checkIn.MonitorID, checkIn.EnvironmentID,
		checkIn.Status, checkIn.Duration, checkIn.DateAdded, checkIn.DateUpdated,
		checkIn.ExpectedTime, checkIn.TimeoutAt, rawConfig, trace,
	).Scan(&checkIn.ID)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("inserting check-in %s: %w", checkIn.GUID, err)
	}

	existing, err := t.GetCheckInByGUID(ctx, checkIn.GUID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (t *Tx) UpdateCheckIn(ctx context.Context, checkInID int64, update shared.CheckInUpdate) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE monitor_checkins
		SET status = $1, duration = $2, date_updated = $3, timeout_at = $4
		WHERE id = $5`,
		update.Status, update.Duration, update.DateUpdated, update.TimeoutAt, checkInID)
	if err != nil {
		return fmt.Errorf("updating check-in %d: %w", checkInID, err)
	}
	return nil
}
