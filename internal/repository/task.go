package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

const taskColumns = `id, user_id, client_id, title, priority, status, actual_minutes,
	updated_at, server_modified_at`

func scanTask(r rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var (
		clientID sql.NullString
		status   string
	)
	err := r.Scan(
		&t.ID, &t.UserID, &clientID, &t.Title, &t.Priority, &status, &t.ActualMinutes,
		&t.UpdatedAt, &t.ServerModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ClientID = clientID.String
	t.Status = model.TaskStatus(status)
	return t, nil
}

// getTask retrieves and locks one of the user's tasks matching cond.
func getTask(ctx context.Context, q querier, cond string, userID int64, arg any) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND ` + cond + ` FOR UPDATE`

	t, err := scanTask(q.QueryRowContext(ctx, query, userID, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func insertTask(ctx context.Context, q querier, t *model.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		t.ID, t.UserID, nullString(t.ClientID), t.Title, t.Priority, string(t.Status), t.ActualMinutes,
		t.UpdatedAt, t.ServerModifiedAt,
	)
	if isDuplicateEntryError(err) {
		return ErrDuplicateClient
	}
	return err
}

func updateTask(ctx context.Context, q querier, t *model.Task) error {
	query := `UPDATE tasks SET title = ?, priority = ?, status = ?, actual_minutes = ?,
		updated_at = ?, server_modified_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := q.ExecContext(ctx, query,
		t.Title, t.Priority, string(t.Status), t.ActualMinutes,
		t.UpdatedAt, t.ServerModifiedAt,
		t.ID, t.UserID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// tasksModifiedSince returns the user's tasks written after since (server clock), oldest first.
func tasksModifiedSince(ctx context.Context, q querier, userID int64, since time.Time) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE user_id = ? AND server_modified_at > ? ORDER BY server_modified_at ASC`

	rows, err := q.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}

	return tasks, rows.Err()
}
