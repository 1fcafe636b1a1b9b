package command

import (
	"fmt"

	"github.com/cadencebot/cadence/pkg/validation"
)

// Cause classifies an expected, user-renderable rejection.
type Cause string

const (
	CauseRestrictedUser    Cause = "restrictedUser"
	CauseRestrictedChannel Cause = "restrictedChannel"
	CauseParam             Cause = "param"
	CauseInvalidCommand    Cause = "invalidCommand"
	CauseInvalidCron       Cause = "invalidCron"
)

// ValidationError is a structured rejection: expected, non-fatal, and
// rendered back to the user rather than logged as a failure.
type ValidationError struct {
	Cause   Cause
	Command string
	Detail  string
	// Result carries the scoring outcome for Cause == CauseParam.
	Result *validation.Result
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("command %s rejected (%s): %s", e.Command, e.Cause, e.Detail)
	}
	return fmt.Sprintf("command %s rejected (%s)", e.Command, e.Cause)
}

// Kill command status reports.
const (
	ReportRecursiveStop = "recursive_stop"
	ReportScheduleFail  = "schedule_fail"
	ReportRecursiveFail = "recursive_fail"
)
