package shared

// CheckInStatus is the lifecycle state of a single check-in.
type CheckInStatus int

const (
	CheckInStatusUnknown    CheckInStatus = 0
	CheckInStatusOK         CheckInStatus = 1
	CheckInStatusError      CheckInStatus = 2
	CheckInStatusInProgress CheckInStatus = 3
	// Missed and Timeout are only ever set by the detection sweeps, never by
	// an incoming check-in.
	CheckInStatusMissed  CheckInStatus = 4
	CheckInStatusTimeout CheckInStatus = 5
)

// IsFinished reports whether the status is terminal. A finished check-in is
// immutable.
func (s CheckInStatus) IsFinished() bool {
	switch s {
	case CheckInStatusOK, CheckInStatusError, CheckInStatusMissed, CheckInStatusTimeout:
		return true
	default:
		return false
	}
}

// CheckInStatusFromString maps the wire status to a CheckInStatus. Only the
// states an SDK may report are accepted.
func CheckInStatusFromString(s string) (CheckInStatus, bool) {
	switch s {
	case "ok":
		return CheckInStatusOK, true
	case "error":
		return CheckInStatusError, true
	case "in_progress":
		return CheckInStatusInProgress, true
	default:
		return CheckInStatusUnknown, false
	}
}

type MonitorStatus int

const (
	MonitorStatusActive          MonitorStatus = 0
	MonitorStatusDisabled        MonitorStatus = 1
	MonitorStatusPendingDeletion MonitorStatus = 2
)

type MonitorType int

const (
	MonitorTypeCronJob MonitorType = 1
)

type EnvironmentStatus int

const (
	EnvironmentStatusOK       EnvironmentStatus = 0
	EnvironmentStatusError    EnvironmentStatus = 1
	EnvironmentStatusTimedOut EnvironmentStatus = 2
	EnvironmentStatusDisabled EnvironmentStatus = 3
)
