package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

// addDailyStatQuery adds the delta columns to an existing row or inserts it.
const addDailyStatQuery = `
	INSERT INTO daily_stats (user_id, day, total_sessions, completed_sessions,
		failed_sessions, total_focus_time, tasks_completed)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		total_sessions     = total_sessions + VALUES(total_sessions),
		completed_sessions = completed_sessions + VALUES(completed_sessions),
		failed_sessions    = failed_sessions + VALUES(failed_sessions),
		total_focus_time   = total_focus_time + VALUES(total_focus_time),
		tasks_completed    = tasks_completed + VALUES(tasks_completed)`

const dailyStatColumns = `user_id, day, total_sessions, completed_sessions, failed_sessions,
	total_focus_time, tasks_completed`

func scanDailyStat(r rowScanner) (model.DailyStat, error) {
	var (
		d   model.DailyStat
		day time.Time
	)
	err := r.Scan(
		&d.UserID, &day, &d.TotalSessions, &d.CompletedSessions, &d.FailedSessions,
		&d.TotalFocusTime, &d.TasksCompleted,
	)
	if err != nil {
		return model.DailyStat{}, err
	}
	d.Day = day.Format(model.DayLayout)
	return d, nil
}

func addDailyStat(ctx context.Context, q querier, userID int64, delta model.DailyStat) error {
	_, err := q.ExecContext(ctx, addDailyStatQuery,
		userID, delta.Day, delta.TotalSessions, delta.CompletedSessions,
		delta.FailedSessions, delta.TotalFocusTime, delta.TasksCompleted,
	)
	return err
}

// getDailyStat returns the row for day, or a zero row if none was recorded yet.
func getDailyStat(ctx context.Context, q querier, userID int64, day string) (model.DailyStat, error) {
	query := `SELECT ` + dailyStatColumns + ` FROM daily_stats WHERE user_id = ? AND day = ?`

	d, err := scanDailyStat(q.QueryRowContext(ctx, query, userID, day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DailyStat{UserID: userID, Day: day}, nil
		}
		return model.DailyStat{}, err
	}
	return d, nil
}

// listDailyStats returns the recorded days in [fromDay, toDay], oldest first.
func listDailyStats(ctx context.Context, q querier, userID int64, fromDay, toDay string) ([]model.DailyStat, error) {
	query := `SELECT ` + dailyStatColumns + ` FROM daily_stats
		WHERE user_id = ? AND day BETWEEN ? AND ? ORDER BY day ASC`

	rows, err := q.QueryContext(ctx, query, userID, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.DailyStat
	for rows.Next() {
		d, err := scanDailyStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}

	return stats, rows.Err()
}
