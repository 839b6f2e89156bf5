package checkin

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

func TestValidateConfigCrontab(t *testing.T) {
	cfg, err := ValidateConfig(json.RawMessage(`{
		"schedule_type": "crontab",
		"schedule": "30 4 * * *",
		"checkin_margin": 5,
		"max_runtime": 60,
		"timezone": "Europe/Berlin"
	}`))
	require.NoError(t, err)
	assert.Equal(t, shared.MonitorConfig{
		ScheduleType:  ScheduleTypeCrontab,
		Schedule:      "30 4 * * *",
		CheckInMargin: 5,
		MaxRuntime:    60,
		Timezone:      "Europe/Berlin",
	}, *cfg)
}

func TestValidateConfigInfersTypeFromShape(t *testing.T) {
	cfg, err := ValidateConfig(json.RawMessage(`{"schedule": "0 * * * *"}`))
	require.NoError(t, err)
	assert.Equal(t, ScheduleTypeCrontab, cfg.ScheduleType)

	cfg, err = ValidateConfig(json.RawMessage(`{"schedule": [2, "hour"]}`))
	require.NoError(t, err)
	assert.Equal(t, ScheduleTypeInterval, cfg.ScheduleType)
	assert.Equal(t, int64(2), cfg.IntervalValue)
	assert.Equal(t, "hour", cfg.IntervalUnit)
}

func TestValidateConfigRejections(t *testing.T) {
	invalid := []string{
		``,
		`{}`,
		`{"schedule": "not a cron"}`,
		`{"schedule": "* * * *"}`,
		`{"schedule": 5}`,
		`{"schedule": [0, "hour"]}`,
		`{"schedule": [-1, "hour"]}`,
		`{"schedule": [2, "fortnight"]}`,
		`{"schedule": [2]}`,
		`{"schedule": [2, "hour", "extra"]}`,
		`{"schedule_type": "celery", "schedule": "0 * * * *"}`,
		`{"schedule": "0 * * * *", "checkin_margin": -1}`,
		`{"schedule": "0 * * * *", "max_runtime": 0}`,
		`{"schedule": "0 * * * *", "max_runtime": 40321}`,
		`{"schedule": "0 * * * *", "timezone": "Mars/Olympus_Mons"}`,
	}
	for _, raw := range invalid {
		_, err := ValidateConfig(json.RawMessage(raw))
		assert.Error(t, err, "config %s", raw)
	}
}

func TestValidateConfigAcceptsRuntimeBounds(t *testing.T) {
	cfg, err := ValidateConfig(json.RawMessage(`{"schedule": "0 * * * *", "max_runtime": 40320}`))
	require.NoError(t, err)
	assert.Equal(t, int64(shared.MaxRuntimeCap), cfg.MaxRuntime)
}
