package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// GetMonitorBySlug looks the monitor up within its organization, locked for
// update so a concurrent config upsert cannot interleave.
func (t *Tx) GetMonitorBySlug(ctx context.Context, organizationID, projectID int64, slug string) (*shared.Monitor, error) {
	monitor := shared.Monitor{
		OrganizationID: organizationID,
		Slug:           slug,
	}
	var rawConfig []byte
	err := t.tx.QueryRow(ctx, `
		SELECT id, project_id, name, status, type, config, date_added, date_updated
		FROM monitors
		WHERE organization_id = $1 AND slug = $2
		FOR UPDATE`,
		organizationID, slug,
	).Scan(&monitor.ID, &monitor.ProjectID, &monitor.Name, &monitor.Status,
		&monitor.Type, &rawConfig, &monitor.DateAdded, &monitor.DateUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("monitor %q: %w", slug, shared.ErrNotFound)
		}
		return nil, err
	}

	if err := json.Unmarshal(rawConfig, &monitor.Config); err != nil {
		return nil, fmt.Errorf("decoding config of monitor %d: %w", monitor.ID, err)
	}
	return &monitor, nil
}

// CreateMonitor inserts the monitor, enforcing the per-organization cap. The
// count runs in the same transaction as the insert, so two racing creates
// settle on the row lock of the later one.
func (t *Tx) CreateMonitor(ctx context.Context, monitor *shared.Monitor) error {
	var count int64
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM monitors WHERE organization_id = $1`,
		monitor.OrganizationID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting monitors of organization %d: %w", monitor.OrganizationID, err)
	}
	if count >= shared.MaxMonitorsPerOrganization {
		return shared.ErrMonitorLimitExceeded
	}

	rawConfig, err := json.Marshal(monitor.Config)
	if err != nil {
		return fmt.Errorf("encoding monitor config: %w", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO monitors
			(organization_id, project_id, slug, name, status, type, config, date_added, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		monitor.OrganizationID, monitor.ProjectID, monitor.Slug, monitor.Name,
		monitor.Status, monitor.Type, rawConfig, monitor.DateAdded,
	).Scan(&monitor.ID)
	if err != nil {
		return fmt.Errorf("inserting monitor %q: %w", monitor.Slug, err)
	}
	return nil
}

func (t *Tx) UpdateMonitorConfig(ctx context.Context, monitorID int64, config shared.MonitorConfig, now time.Time) error {
	rawConfig, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding monitor config: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE monitors SET config = $1, date_updated = $2 WHERE id = $3`,
		rawConfig, now, monitorID)
	if err != nil {
		return fmt.Errorf("updating config of monitor %d: %w", monitorID, err)
	}
	return nil
}
