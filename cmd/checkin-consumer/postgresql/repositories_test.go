package postgresql

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/checkin"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// inTx runs fn against a mocked transaction, asserting the commit happened.
func inTx(t *testing.T, c *Connection, mock pgxmock.PgxPoolIface, fn func(tx checkin.Tx) error) {
	err := c.InTransaction(context.Background(), func(tx checkin.Tx) error {
		return fn(tx)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMonitorBySlug(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, project_id, name, status, type, config, date_added, date_updated`).
		WithArgs(int64(42), "nightly-backup").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "name", "status", "type", "config", "date_added", "date_updated",
		}).AddRow(
			int64(5), int64(1), "Nightly Backup", shared.MonitorStatusActive, shared.MonitorTypeCronJob,
			[]byte(`{"schedule_type":"crontab","schedule":"0 4 * * *"}`), testTime, testTime,
		))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		monitor, err := tx.GetMonitorBySlug(context.Background(), 42, 1, "nightly-backup")
		require.NoError(t, err)
		assert.Equal(t, int64(5), monitor.ID)
		assert.Equal(t, "0 4 * * *", monitor.Config.Schedule)
		return nil
	})
}

func TestGetMonitorBySlugNotFound(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, project_id, name, status, type, config, date_added, date_updated`).
		WithArgs(int64(42), "missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		_, err := tx.GetMonitorBySlug(context.Background(), 42, 1, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		return nil
	})
}

func TestCreateMonitorEnforcesOrganizationLimit(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monitors`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(shared.MaxMonitorsPerOrganization)))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		err := tx.CreateMonitor(context.Background(), &shared.Monitor{OrganizationID: 42, Slug: "one-too-many"})
		assert.ErrorIs(t, err, shared.ErrMonitorLimitExceeded)
		return nil
	})
}

func TestCreateMonitorInserts(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monitors`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`INSERT INTO monitors`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		monitor := &shared.Monitor{
			OrganizationID: 42,
			ProjectID:      1,
			Slug:           "nightly-backup",
			Name:           "nightly-backup",
			Status:         shared.MonitorStatusActive,
			Type:           shared.MonitorTypeCronJob,
			DateAdded:      testTime,
		}
		require.NoError(t, tx.CreateMonitor(context.Background(), monitor))
		assert.Equal(t, int64(9), monitor.ID)
		return nil
	})
}

func TestEnsureEnvironmentCreates(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, status, last_checkin, next_checkin`).
		WithArgs(int64(5), "production").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM monitor_environments`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`INSERT INTO monitor_environments`).
		WithArgs(int64(5), "production", shared.EnvironmentStatusOK).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		environment, err := tx.EnsureEnvironment(context.Background(), &shared.Monitor{ID: 5}, "production")
		require.NoError(t, err)
		assert.Equal(t, int64(11), environment.ID)
		return nil
	})
}

func TestEnsureEnvironmentNameTooLong(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, status, last_checkin, next_checkin`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		name := strings.Repeat("e", shared.MaxEnvironmentNameLength+1)
		_, err := tx.EnsureEnvironment(context.Background(), &shared.Monitor{ID: 5}, name)
		assert.ErrorIs(t, err, shared.ErrEnvironmentNameTooLong)
		return nil
	})
}

func TestCreateCheckInConvergesOnConflict(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	guid := uuid.New()

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING yields no row when another worker already won.
	mock.ExpectQuery(`INSERT INTO monitor_checkins`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM monitor_checkins`).
		WithArgs(guid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "guid", "project_id", "monitor_id", "environment_id", "status",
			"duration", "date_added", "date_updated", "expected_time", "timeout_at", "config", "trace_id",
		}).AddRow(
			int64(77), guid, int64(1), int64(5), int64(11), shared.CheckInStatusInProgress,
			nil, testTime, testTime, nil, nil, []byte(`{"schedule_type":"crontab","schedule":"0 4 * * *"}`), nil,
		))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		created, existing, err := tx.CreateCheckIn(context.Background(), &shared.MonitorCheckIn{
			GUID:          guid,
			ProjectID:     1,
			MonitorID:     5,
			EnvironmentID: 11,
			Status:        shared.CheckInStatusInProgress,
			DateAdded:     testTime,
			DateUpdated:   testTime,
		})
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, existing)
		assert.Equal(t, int64(77), existing.ID)
		assert.Equal(t, "0 4 * * *", existing.Config.Schedule)
		return nil
	})
}

func TestUpdateCheckIn(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	duration := int64(25000)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE monitor_checkins`).
		WithArgs(shared.CheckInStatusOK, &duration, testTime, (*time.Time)(nil), int64(77)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		return tx.UpdateCheckIn(context.Background(), 77, shared.CheckInUpdate{
			Status:      shared.CheckInStatusOK,
			Duration:    &duration,
			DateUpdated: testTime,
		})
	})
}

func TestMarkEnvironmentTransitions(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	next := testTime.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE monitor_environments`).
		WithArgs(shared.EnvironmentStatusOK, testTime, &next, int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE monitor_environments`).
		WithArgs(shared.EnvironmentStatusError, testTime, pgxmock.AnyArg(), int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	inTx(t, c, mock, func(tx checkin.Tx) error {
		require.NoError(t, tx.MarkEnvironmentOK(context.Background(), 11, testTime, &next))
		return tx.MarkEnvironmentFailed(context.Background(), 11, testTime, "f1e2d3c4b5a69788f1e2d3c4b5a69788")
	})
}
