package checkin

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// ensureMonitor resolves the monitor for a check-in, creating or updating it
// when the payload carries a schedule configuration.
//
// The lookup first uses the normalized slug, then falls back to the raw slug
// the SDK sent. Monitors created before slugs were normalized on upsert are
// still stored under their raw slug, and must keep resolving.
//
// A malformed config never fails the check-in: it is logged and whatever
// monitor was found is returned unchanged.
func (p *Processor) ensureMonitor(ctx context.Context, tx Tx, m *message) (monitor *shared.Monitor, created bool, err error) {
	monitor, err = tx.GetMonitorBySlug(ctx, m.project.OrganizationID, m.project.ID, m.slug)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	if monitor == nil && m.rawSlug != m.slug {
		monitor, err = tx.GetMonitorBySlug(ctx, m.project.OrganizationID, m.project.ID, m.rawSlug)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, false, err
		}
	}

	if len(m.rawConfig) == 0 {
		return monitor, false, nil
	}

	config, err := ValidateConfig(json.RawMessage(m.rawConfig))
	if err != nil {
		zap.S().Debugf("invalid monitor_config for %s: %s", m.slug, err)
		return monitor, false, nil
	}

	if monitor == nil {
		monitor = &shared.Monitor{
			OrganizationID: m.project.OrganizationID,
			ProjectID:      m.project.ID,
			Slug:           m.slug,
			Name:           m.slug,
			Status:         shared.MonitorStatusActive,
			Type:           shared.MonitorTypeCronJob,
			Config:         *config,
			DateAdded:      m.startTime,
			DateUpdated:    m.startTime,
		}
		if err := tx.CreateMonitor(ctx, monitor); err != nil {
			return nil, false, err
		}
		p.signals.FirstMonitorCreated(m.project, monitor)
		return monitor, true, nil
	}

	if monitor.Config != *config {
		if err := tx.UpdateMonitorConfig(ctx, monitor.ID, *config, m.startTime); err != nil {
			return nil, false, err
		}
		monitor.Config = *config
	}

	return monitor, false, nil
}
