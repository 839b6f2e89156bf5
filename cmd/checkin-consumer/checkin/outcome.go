package checkin

// Outcome is the terminal result of processing one check-in message. Every
// value maps to a metric tag; none of them are errors to the transport.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"

	// Gate denials.
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "ratelimited"

	// Validation failures.
	OutcomeFailedGuidValidation    Outcome = "failed_guid_validation"
	OutcomeFailedCheckInValidation Outcome = "failed_checkin_validation"
	OutcomeFailedMonitorValidation Outcome = "failed_validation"
	OutcomeFailedDurationCheck     Outcome = "failed_duration_check"

	// Limits.
	OutcomeMonitorLimitExceeded     Outcome = "failed_monitor_limits"
	OutcomeEnvironmentLimitExceeded Outcome = "failed_monitor_environment_limits"
	OutcomeEnvironmentNameTooLong   Outcome = "failed_monitor_environment_name_length"

	// Identity mismatches.
	OutcomeGuidMismatch        Outcome = "guid_mismatch"
	OutcomeEnvironmentMismatch Outcome = "failed_monitor_environment_guid_match"

	// Terminal check-in, lock contention, unexpected fault.
	OutcomeCheckInFinished Outcome = "checkin_finished"
	OutcomeLockContention  Outcome = "failed_checkin_creation_lock"
	OutcomeError           Outcome = "error"
)
