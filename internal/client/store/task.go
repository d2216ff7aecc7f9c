package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/focusflow/focusflow-go/internal/model"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is the device's copy of a task. Exactly one of ServerID and ClientID
// is set: ClientID until the first successful sync maps it, ServerID after.
type Task struct {
	LocalID       string
	ServerID      string
	ClientID      string
	Title         string
	Priority      int
	Status        model.TaskStatus
	ActualMinutes int
	UpdatedAt     time.Time
	Synced        bool
}

// Ref is the identifier the server knows this task by.
func (t Task) Ref() string {
	if t.ServerID != "" {
		return t.ServerID
	}
	return t.ClientID
}

// Version is the last-writer-wins timestamp.
func (t Task) Version() time.Time { return t.UpdatedAt }

type taskRow struct {
	LocalID       string `db:"local_id"`
	ServerID      string `db:"server_id"`
	ClientID      string `db:"client_id"`
	Title         string `db:"title"`
	Priority      int    `db:"priority"`
	Status        string `db:"status"`
	ActualMinutes int    `db:"actual_minutes"`
	UpdatedAt     int64  `db:"updated_at"`
	Synced        bool   `db:"synced"`
}

func (r taskRow) task() Task {
	return Task{
		LocalID:       r.LocalID,
		ServerID:      r.ServerID,
		ClientID:      r.ClientID,
		Title:         r.Title,
		Priority:      r.Priority,
		Status:        model.TaskStatus(r.Status),
		ActualMinutes: r.ActualMinutes,
		UpdatedAt:     fromMicro(r.UpdatedAt),
		Synced:        r.Synced,
	}
}

func (t Task) row() taskRow {
	return taskRow{
		LocalID:       t.LocalID,
		ServerID:      t.ServerID,
		ClientID:      t.ClientID,
		Title:         t.Title,
		Priority:      t.Priority,
		Status:        string(t.Status),
		ActualMinutes: t.ActualMinutes,
		UpdatedAt:     toMicro(t.UpdatedAt),
		Synced:        t.Synced,
	}
}

func validateTask(t Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if t.Priority < 0 || t.Priority > 4 {
		return fmt.Errorf("%w: priority must be between 0 and 4", ErrInvalidTask)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	return nil
}

const taskColumns = `local_id, server_id, client_id, title, priority, status, actual_minutes, updated_at, synced`

const insertTask = `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (:local_id, :server_id, :client_id, :title, :priority, :status, :actual_minutes, :updated_at, :synced)`

// CreateTask records a new task that exists only on this device until synced.
func (s *Store) CreateTask(ctx context.Context, title string, priority int) (Task, error) {
	t := Task{
		LocalID:   uuid.NewString(),
		ClientID:  newClientID(),
		Title:     strings.TrimSpace(title),
		Priority:  priority,
		Status:    model.TaskTodo,
		UpdatedAt: s.clock(),
	}
	if err := validateTask(t); err != nil {
		return Task{}, err
	}

	if _, err := s.db.NamedExecContext(ctx, insertTask, t.row()); err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return t, nil
}

// UpdateTask applies edit to the task and queues the result for upload.
// Identity and sync bookkeeping fields are not editable.
func (s *Store) UpdateTask(ctx context.Context, localID string, edit func(*Task)) (Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getTask(ctx, tx, "local_id", localID)
	if err != nil {
		return Task{}, err
	}

	next := *current
	edit(&next)
	next.LocalID = current.LocalID
	next.ServerID = current.ServerID
	next.ClientID = current.ClientID
	next.Title = strings.TrimSpace(next.Title)
	next.UpdatedAt = s.stamp(current.UpdatedAt)
	next.Synced = false
	if err := validateTask(next); err != nil {
		return Task{}, err
	}

	const query = `
		UPDATE tasks SET title = :title, priority = :priority, status = :status,
			actual_minutes = :actual_minutes, updated_at = :updated_at, synced = :synced
		WHERE local_id = :local_id`
	if _, err := tx.NamedExecContext(ctx, query, next.row()); err != nil {
		return Task{}, fmt.Errorf("updating task %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("committing task update: %w", err)
	}
	return next, nil
}

// GetTask returns the task with the given local id.
func (s *Store) GetTask(ctx context.Context, localID string) (*Task, error) {
	return getTask(ctx, s.db, "local_id", localID)
}

// FindTask looks a task up by server id, falling back to client id.
func (s *Store) FindTask(ctx context.Context, serverID, clientID string) (*Task, error) {
	if serverID != "" {
		t, err := getTask(ctx, s.db, "server_id", serverID)
		if !errors.Is(err, ErrNotFound) {
			return t, err
		}
	}
	if clientID != "" {
		return getTask(ctx, s.db, "client_id", clientID)
	}
	return nil, ErrNotFound
}

// ListTasks returns every local task, most recently edited first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+taskColumns+" FROM tasks ORDER BY updated_at DESC"); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.task())
	}
	return tasks, nil
}

// ApplyServerTask stores a copy chosen by the conflict resolver. With a nil
// prev the row is inserted; otherwise it is overwritten only if its
// updated_at still equals *prev, so an edit made meanwhile is never lost.
func (s *Store) ApplyServerTask(ctx context.Context, t Task, prev *time.Time) (bool, error) {
	if prev == nil {
		if _, err := s.db.NamedExecContext(ctx, insertTask, t.row()); err != nil {
			return false, fmt.Errorf("inserting server task %s: %w", t.ServerID, err)
		}
		return true, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET server_id = ?, client_id = ?, title = ?, priority = ?, status = ?,
			actual_minutes = ?, updated_at = ?, synced = ?
		WHERE local_id = ? AND updated_at = ?`,
		t.ServerID, t.ClientID, t.Title, t.Priority, string(t.Status),
		t.ActualMinutes, toMicro(t.UpdatedAt), t.Synced,
		t.LocalID, toMicro(*prev))
	if err != nil {
		return false, fmt.Errorf("updating server task %s: %w", t.ServerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating server task %s: %w", t.ServerID, err)
	}
	return n > 0, nil
}

func (s *Store) unsyncedTasks(ctx context.Context) ([]model.SyncOperation, error) {
	var rows []taskRow
	query := "SELECT " + taskColumns + " FROM tasks WHERE synced = 0 ORDER BY updated_at ASC"
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing unsynced tasks: %w", err)
	}

	ops := make([]model.SyncOperation, 0, len(rows))
	for _, r := range rows {
		t := r.task()
		h := model.OpHeader{LocalID: t.LocalID, ID: t.Ref(), At: t.UpdatedAt}
		data := model.TaskPayload{Title: t.Title, Priority: t.Priority, Status: t.Status}
		if t.ServerID == "" {
			ops = append(ops, model.TaskCreate{OpHeader: h, Data: data})
		} else {
			ops = append(ops, model.TaskUpdate{OpHeader: h, Data: data})
		}
	}
	return ops, nil
}

func getTask(ctx context.Context, q sqlx.QueryerContext, column, value string) (*Task, error) {
	var r taskRow
	err := sqlx.GetContext(ctx, q, &r, "SELECT "+taskColumns+" FROM tasks WHERE "+column+" = ?", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task by %s: %w", column, err)
	}
	t := r.task()
	return &t, nil
}
