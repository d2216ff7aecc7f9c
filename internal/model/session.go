package model

import "time"

// SessionStatus is the lifecycle state of a focus session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionRunning, SessionPaused, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// Active reports whether the session still occupies the user's single active slot.
func (s SessionStatus) Active() bool {
	return s == SessionRunning || s == SessionPaused
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Failure reasons recorded by the server.
const (
	ReasonTimeout    = "TIMEOUT"
	ReasonAbandoned  = "ABANDONED"
	ReasonSuperseded = "SUPERSEDED"
)

// MaxReasonLength is the longest failure reason the store accepts.
const MaxReasonLength = 64

// FocusSession is a time-boxed focus period, optionally linked to a task.
// Duration, TimeElapsed and PauseDuration are in seconds.
type FocusSession struct {
	ID               string        `json:"id,omitempty"`
	ClientID         string        `json:"clientId,omitempty"`
	UserID           int64         `json:"-"`
	TaskID           string        `json:"taskId,omitempty"`
	Duration         int           `json:"duration"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	Status           SessionStatus `json:"status"`
	Progress         int           `json:"progress"`
	TimeElapsed      int           `json:"timeElapsed"`
	PauseDuration    int           `json:"pauseDuration"`
	PausedAt         *time.Time    `json:"pausedAt,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	TaskAutoStarted  bool          `json:"-"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	ServerModifiedAt time.Time     `json:"-"`
}

// CreateSessionRequest starts a new focus session.
type CreateSessionRequest struct {
	TaskID          string `json:"taskId,omitempty"`
	DurationMinutes int    `json:"durationMinutes"`
}

// CompleteSessionRequest completes a session. A nil ActualDuration lets the
// server derive it from its own clock.
type CompleteSessionRequest struct {
	ActualDuration *int `json:"actualDuration,omitempty"`
}

// FailSessionRequest abandons a session.
type FailSessionRequest struct {
	Reason string `json:"reason"`
}
