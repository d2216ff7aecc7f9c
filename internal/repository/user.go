package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/focusflow/focusflow-go/internal/model"
)

const userColumns = `id, tier, timezone, total_focus_time, completed_sessions,
	current_streak, longest_streak, last_session_date, created_at, updated_at`

// ensureUserQuery creates the stats row of an authenticated user on first use.
// Accounts live in the auth service; the tier and timezone keep their defaults
// until it updates them.
const ensureUserQuery = `INSERT IGNORE INTO users (id) VALUES (?)`

func ensureUser(ctx context.Context, q querier, id int64) error {
	_, err := q.ExecContext(ctx, ensureUserQuery, id)
	return err
}

// getUser retrieves a user by ID, optionally locking the row.
func getUser(ctx context.Context, q querier, id int64, lock bool) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	user := &model.User{}
	var (
		tier     string
		lastDate sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &tier, &user.Timezone, &user.TotalFocusTime, &user.CompletedSessions,
		&user.CurrentStreak, &user.LongestStreak, &lastDate, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.Tier = model.UserTier(tier)
	if lastDate.Valid {
		user.LastSessionDate = lastDate.Time.Format(model.DayLayout)
	}
	return user, nil
}

// updateUserStats writes the focus counters and streak of a user.
func updateUserStats(ctx context.Context, q querier, user *model.User) error {
	query := `UPDATE users SET total_focus_time = ?, completed_sessions = ?,
		current_streak = ?, longest_streak = ?, last_session_date = ?
		WHERE id = ?`

	_, err := q.ExecContext(ctx, query,
		user.TotalFocusTime,
		user.CompletedSessions,
		user.CurrentStreak,
		user.LongestStreak,
		nullString(user.LastSessionDate),
		user.ID,
	)
	return err
}
