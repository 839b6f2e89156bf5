package postgresql

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/checkin"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

func TestGetProjectCachesResult(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT organization_id FROM projects`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"organization_id"}).AddRow(int64(42)))

	project, err := c.GetProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), project.OrganizationID)

	// Second lookup is served from the cache: no second query expectation.
	project, err = c.GetProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), project.OrganizationID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectNotFound(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT organization_id FROM projects`).
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)

	_, err := c.GetProject(context.Background(), 7)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransactionCommits(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := c.InTransaction(context.Background(), func(tx checkin.Tx) error {
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	c, mock := CreateMockConnection(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := c.InTransaction(context.Background(), func(tx checkin.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
