package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

const sessionColumns = `id, user_id, client_id, task_id, duration, start_time, end_time,
	status, progress, time_elapsed, pause_duration, paused_at, reason,
	task_auto_started, updated_at, server_modified_at`

func scanSession(r rowScanner) (*model.FocusSession, error) {
	s := &model.FocusSession{}
	var (
		clientID sql.NullString
		status   string
		pausedAt sql.NullTime
	)
	err := r.Scan(
		&s.ID, &s.UserID, &clientID, &s.TaskID, &s.Duration, &s.StartTime, &s.EndTime,
		&status, &s.Progress, &s.TimeElapsed, &s.PauseDuration, &pausedAt, &s.Reason,
		&s.TaskAutoStarted, &s.UpdatedAt, &s.ServerModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ClientID = clientID.String
	s.Status = model.SessionStatus(status)
	if pausedAt.Valid {
		t := pausedAt.Time
		s.PausedAt = &t
	}
	return s, nil
}

// getSession retrieves and locks one of the user's sessions matching cond.
func getSession(ctx context.Context, q querier, cond string, userID int64, arg any) (*model.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions
		WHERE user_id = ? AND ` + cond + ` FOR UPDATE`

	s, err := scanSession(q.QueryRowContext(ctx, query, userID, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// getActiveSession returns the user's RUNNING or PAUSED session, or nil if there is none.
func getActiveSession(ctx context.Context, q querier, userID int64, lock bool) (*model.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions
		WHERE user_id = ? AND status IN ('RUNNING', 'PAUSED')
		ORDER BY start_time DESC LIMIT 1`
	if lock {
		query += ` FOR UPDATE`
	}

	s, err := scanSession(q.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func insertSession(ctx context.Context, q querier, s *model.FocusSession) error {
	query := `INSERT INTO focus_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		s.ID, s.UserID, nullString(s.ClientID), s.TaskID, s.Duration, s.StartTime, s.EndTime,
		string(s.Status), s.Progress, s.TimeElapsed, s.PauseDuration, nullTime(s.PausedAt), s.Reason,
		s.TaskAutoStarted, s.UpdatedAt, s.ServerModifiedAt,
	)
	if isDuplicateEntryError(err) {
		return ErrDuplicateClient
	}
	return err
}

func updateSession(ctx context.Context, q querier, s *model.FocusSession) error {
	query := `UPDATE focus_sessions SET task_id = ?, end_time = ?, status = ?, progress = ?,
		time_elapsed = ?, pause_duration = ?, paused_at = ?, reason = ?, task_auto_started = ?,
		updated_at = ?, server_modified_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := q.ExecContext(ctx, query,
		s.TaskID, s.EndTime, string(s.Status), s.Progress,
		s.TimeElapsed, s.PauseDuration, nullTime(s.PausedAt), s.Reason, s.TaskAutoStarted,
		s.UpdatedAt, s.ServerModifiedAt,
		s.ID, s.UserID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// sessionsModifiedSince returns the user's sessions written after since (server clock),
// oldest first.
func sessionsModifiedSince(ctx context.Context, q querier, userID int64, since time.Time) ([]model.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions
		WHERE user_id = ? AND server_modified_at > ? ORDER BY server_modified_at ASC`

	rows, err := q.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.FocusSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}
