package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// MySQLStore implements Store on a MySQL (InnoDB) database.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQLStore.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// WithTx starts a transaction, runs fn and commits when fn succeeds.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return getUser(ctx, s.db, userID, false)
}

func (s *MySQLStore) GetActiveSession(ctx context.Context, userID int64) (*model.FocusSession, error) {
	return getActiveSession(ctx, s.db, userID, false)
}

func (s *MySQLStore) ListDailyStats(ctx context.Context, userID int64, fromDay, toDay string) ([]model.DailyStat, error) {
	return listDailyStats(ctx, s.db, userID, fromDay, toDay)
}

// mysqlTx binds the per-entity queries to one *sql.Tx, taking row locks where
// the Tx contract asks for them.
type mysqlTx struct {
	q querier
}

func (t *mysqlTx) LockUser(ctx context.Context, userID int64) (*model.User, error) {
	if err := ensureUser(ctx, t.q, userID); err != nil {
		return nil, fmt.Errorf("provisioning user %d: %w", userID, err)
	}
	return getUser(ctx, t.q, userID, true)
}

func (t *mysqlTx) UpdateUserStats(ctx context.Context, user *model.User) error {
	return updateUserStats(ctx, t.q, user)
}

func (t *mysqlTx) GetSessionForUpdate(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
	return getSession(ctx, t.q, `id = ?`, userID, id)
}

func (t *mysqlTx) GetSessionByClientID(ctx context.Context, userID int64, clientID string) (*model.FocusSession, error) {
	return getSession(ctx, t.q, `client_id = ?`, userID, clientID)
}

func (t *mysqlTx) GetActiveSessionForUpdate(ctx context.Context, userID int64) (*model.FocusSession, error) {
	return getActiveSession(ctx, t.q, userID, true)
}

func (t *mysqlTx) InsertSession(ctx context.Context, s *model.FocusSession) error {
	return insertSession(ctx, t.q, s)
}

func (t *mysqlTx) UpdateSession(ctx context.Context, s *model.FocusSession) error {
	return updateSession(ctx, t.q, s)
}

func (t *mysqlTx) SessionsModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.FocusSession, error) {
	return sessionsModifiedSince(ctx, t.q, userID, since)
}

func (t *mysqlTx) GetTaskForUpdate(ctx context.Context, userID int64, id string) (*model.Task, error) {
	return getTask(ctx, t.q, `id = ?`, userID, id)
}

func (t *mysqlTx) GetTaskByClientID(ctx context.Context, userID int64, clientID string) (*model.Task, error) {
	return getTask(ctx, t.q, `client_id = ?`, userID, clientID)
}

func (t *mysqlTx) InsertTask(ctx context.Context, task *model.Task) error {
	return insertTask(ctx, t.q, task)
}

func (t *mysqlTx) UpdateTask(ctx context.Context, task *model.Task) error {
	return updateTask(ctx, t.q, task)
}

func (t *mysqlTx) TasksModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.Task, error) {
	return tasksModifiedSince(ctx, t.q, userID, since)
}

func (t *mysqlTx) GetDailyStat(ctx context.Context, userID int64, day string) (model.DailyStat, error) {
	return getDailyStat(ctx, t.q, userID, day)
}

func (t *mysqlTx) AddDailyStat(ctx context.Context, userID int64, delta model.DailyStat) error {
	return addDailyStat(ctx, t.q, userID, delta)
}

// nullString maps "" to NULL so unique keys on optional ids ignore unset values.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isDuplicateEntryError checks if a MySQL error is a duplicate entry error (code 1062).
func isDuplicateEntryError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}
