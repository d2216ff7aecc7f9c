package service

import "errors"

// Error is a business-rule failure with a stable machine-readable code.
// The package-level values are sentinels; compare with errors.Is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// Validation.
	ErrInvalidDuration       = &Error{Code: "INVALID_DURATION", Message: "duration must be between 5 and 240 minutes"}
	ErrInvalidTaskStatus     = &Error{Code: "INVALID_TASK_STATUS", Message: "task is completed or archived"}
	ErrInvalidActualDuration = &Error{Code: "INVALID_ACTUAL_DURATION", Message: "actual duration exceeds the session duration plus grace period"}
	ErrInvalidPeriod         = &Error{Code: "INVALID_PERIOD", Message: "period must be one of day, week, month, year"}
	ErrInvalidPayload        = &Error{Code: "INVALID_PAYLOAD", Message: "operation payload is invalid"}
	ErrInvalidReason         = &Error{Code: "INVALID_REASON", Message: "failure reason is too long"}
	ErrTooManyOperations     = &Error{Code: "TOO_MANY_OPERATIONS", Message: "too many operations in one sync request"}

	// State conflicts.
	ErrActiveSessionExists     = &Error{Code: "ACTIVE_SESSION_EXISTS", Message: "an active session already exists"}
	ErrSessionLimitExceeded    = &Error{Code: "SESSION_LIMIT_EXCEEDED", Message: "daily session limit reached"}
	ErrInvalidSessionStatus    = &Error{Code: "INVALID_SESSION_STATUS", Message: "session is not in a valid status for this action"}
	ErrSessionAlreadyCompleted = &Error{Code: "SESSION_ALREADY_COMPLETED", Message: "session is already completed"}
	ErrSessionAlreadyFailed    = &Error{Code: "SESSION_ALREADY_FAILED", Message: "session has already failed"}

	// Expiry.
	ErrSessionExpired = &Error{Code: "SESSION_EXPIRED", Message: "session has expired"}

	// Not found.
	ErrSessionNotFound = &Error{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrTaskNotFound    = &Error{Code: "TASK_NOT_FOUND", Message: "task not found"}
	ErrUserNotFound    = &Error{Code: "USER_NOT_FOUND", Message: "user not found"}
)

// ErrorCode returns the code of a service error, or "" for anything else.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
