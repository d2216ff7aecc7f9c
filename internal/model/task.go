package model

import "time"

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskArchived   TaskStatus = "ARCHIVED"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskCompleted, TaskArchived:
		return true
	}
	return false
}

// Closed reports whether a task in this status can no longer receive focus sessions.
func (s TaskStatus) Closed() bool {
	return s == TaskCompleted || s == TaskArchived
}

// DefaultTaskPriority is used when a task is created without an explicit priority.
const DefaultTaskPriority = 2

// Task is a unit of work owned by a user.
// ID is assigned by the server; ClientID is the temporary identifier a device
// assigns before the first successful sync.
type Task struct {
	ID               string     `json:"id,omitempty"`
	ClientID         string     `json:"clientId,omitempty"`
	UserID           int64      `json:"-"`
	Title            string     `json:"title"`
	Priority         int        `json:"priority"`
	Status           TaskStatus `json:"status"`
	ActualMinutes    int        `json:"actualMinutes"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ServerModifiedAt time.Time  `json:"-"`
}
