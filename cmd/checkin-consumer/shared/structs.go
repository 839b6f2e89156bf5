package shared

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// CheckInMessage is the outer transport envelope. Relays pack it as a msgpack
// map; Payload carries the JSON-encoded CheckInPayload.
type CheckInMessage struct {
	Payload   []byte `msgpack:"payload"`
	StartTime string `msgpack:"start_time"`
	ProjectID string `msgpack:"project_id"`
	SDK       string `msgpack:"sdk"`
}

// CheckInPayload is the inner check-in event as reported by an SDK.
// Duration is in seconds; it is stored on the check-in row in milliseconds.
type CheckInPayload struct {
	CheckInID     string          `json:"check_in_id"`
	MonitorSlug   string          `json:"monitor_slug"`
	Status        string          `json:"status"`
	Environment   string          `json:"environment,omitempty"`
	Duration      *float64        `json:"duration,omitempty"`
	MonitorConfig json.RawMessage `json:"monitor_config,omitempty"`
	Contexts      CheckInContexts `json:"contexts,omitempty"`
}

type CheckInContexts struct {
	Trace TraceContext `json:"trace,omitempty"`
}

type TraceContext struct {
	TraceID string `json:"trace_id,omitempty"`
}

// MonitorConfig is the schedule configuration a check-in may carry. A copy of
// the validated config is frozen into every check-in row at creation time.
//
// Schedule holds the crontab expression for schedule_type "crontab" and is
// empty for "interval", where IntervalValue/IntervalUnit apply instead.
type MonitorConfig struct {
	ScheduleType  string `json:"schedule_type"`
	Schedule      string `json:"schedule,omitempty"`
	IntervalValue int64  `json:"interval_value,omitempty"`
	IntervalUnit  string `json:"interval_unit,omitempty"`
	// CheckInMargin and MaxRuntime are in minutes.
	CheckInMargin int64  `json:"checkin_margin,omitempty"`
	MaxRuntime    int64  `json:"max_runtime,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

type Project struct {
	ID             int64
	OrganizationID int64
}

type Monitor struct {
	ID             int64
	OrganizationID int64
	ProjectID      int64
	Slug           string
	Name           string
	Status         MonitorStatus
	Type           MonitorType
	Config         MonitorConfig
	DateAdded      time.Time
	DateUpdated    time.Time
}

type MonitorEnvironment struct {
	ID          int64
	MonitorID   int64
	Name        string
	Status      EnvironmentStatus
	LastCheckIn *time.Time
	NextCheckIn *time.Time
}

type MonitorCheckIn struct {
	ID            int64
	GUID          uuid.UUID
	ProjectID     int64
	MonitorID     int64
	EnvironmentID int64
	Status        CheckInStatus
	// Duration in milliseconds, nil until known.
	Duration     *int64
	DateAdded    time.Time
	DateUpdated  time.Time
	ExpectedTime *time.Time
	TimeoutAt    *time.Time
	Config       MonitorConfig
	TraceID      string
}

// CheckInUpdate is the mutable subset applied to an existing check-in.
type CheckInUpdate struct {
	Status      CheckInStatus
	Duration    *int64
	DateUpdated time.Time
	TimeoutAt   *time.Time
}
