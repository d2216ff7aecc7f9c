package repository

import (
	"context"
	"errors"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrDuplicateClient = errors.New("client id already exists")
)

// Store is the server-side persistence contract shared by the MySQL and
// in-memory implementations.
type Store interface {
	// WithTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetActiveSession(ctx context.Context, userID int64) (*model.FocusSession, error)
	ListDailyStats(ctx context.Context, userID int64, fromDay, toDay string) ([]model.DailyStat, error)
}

// Tx is the set of operations available inside a transaction.
// Methods with ForUpdate (and LockUser) hold a row lock until the transaction ends.
// LockUser creates the user's row with default settings if it does not exist yet.
type Tx interface {
	LockUser(ctx context.Context, userID int64) (*model.User, error)
	UpdateUserStats(ctx context.Context, user *model.User) error

	GetSessionForUpdate(ctx context.Context, userID int64, id string) (*model.FocusSession, error)
	GetSessionByClientID(ctx context.Context, userID int64, clientID string) (*model.FocusSession, error)
	// GetActiveSessionForUpdate returns nil, nil when the user has no RUNNING or PAUSED session.
	GetActiveSessionForUpdate(ctx context.Context, userID int64) (*model.FocusSession, error)
	InsertSession(ctx context.Context, s *model.FocusSession) error
	UpdateSession(ctx context.Context, s *model.FocusSession) error
	SessionsModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.FocusSession, error)

	GetTaskForUpdate(ctx context.Context, userID int64, id string) (*model.Task, error)
	GetTaskByClientID(ctx context.Context, userID int64, clientID string) (*model.Task, error)
	InsertTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error
	TasksModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.Task, error)

	GetDailyStat(ctx context.Context, userID int64, day string) (model.DailyStat, error)
	// AddDailyStat adds delta to the (user, delta.Day) row, creating it if needed.
	AddDailyStat(ctx context.Context, userID int64, delta model.DailyStat) error
}
