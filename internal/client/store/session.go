package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/focusflow/focusflow-go/internal/model"
)

var ErrInvalidSession = errors.New("invalid session")

// Session is the device's copy of a focus session. TaskID holds whichever
// identifier the linked task is currently known by on the server side.
type Session struct {
	LocalID       string
	ServerID      string
	ClientID      string
	TaskID        string
	Duration      int
	StartTime     time.Time
	EndTime       time.Time
	Status        model.SessionStatus
	Progress      int
	TimeElapsed   int
	PauseDuration int
	PausedAt      *time.Time
	Reason        string
	UpdatedAt     time.Time
	Synced        bool
}

// Ref is the identifier the server knows this session by.
func (fs Session) Ref() string {
	if fs.ServerID != "" {
		return fs.ServerID
	}
	return fs.ClientID
}

// Version is the last-writer-wins timestamp.
func (fs Session) Version() time.Time { return fs.UpdatedAt }

type sessionRow struct {
	LocalID       string `db:"local_id"`
	ServerID      string `db:"server_id"`
	ClientID      string `db:"client_id"`
	TaskID        string `db:"task_id"`
	Duration      int    `db:"duration"`
	StartTime     int64  `db:"start_time"`
	EndTime       int64  `db:"end_time"`
	Status        string `db:"status"`
	Progress      int    `db:"progress"`
	TimeElapsed   int    `db:"time_elapsed"`
	PauseDuration int    `db:"pause_duration"`
	PausedAt      *int64 `db:"paused_at"`
	Reason        string `db:"reason"`
	UpdatedAt     int64  `db:"updated_at"`
	Synced        bool   `db:"synced"`
}

func (r sessionRow) session() Session {
	return Session{
		LocalID:       r.LocalID,
		ServerID:      r.ServerID,
		ClientID:      r.ClientID,
		TaskID:        r.TaskID,
		Duration:      r.Duration,
		StartTime:     fromMicro(r.StartTime),
		EndTime:       fromMicro(r.EndTime),
		Status:        model.SessionStatus(r.Status),
		Progress:      r.Progress,
		TimeElapsed:   r.TimeElapsed,
		PauseDuration: r.PauseDuration,
		PausedAt:      fromMicroPtr(r.PausedAt),
		Reason:        r.Reason,
		UpdatedAt:     fromMicro(r.UpdatedAt),
		Synced:        r.Synced,
	}
}

func (fs Session) row() sessionRow {
	return sessionRow{
		LocalID:       fs.LocalID,
		ServerID:      fs.ServerID,
		ClientID:      fs.ClientID,
		TaskID:        fs.TaskID,
		Duration:      fs.Duration,
		StartTime:     toMicro(fs.StartTime),
		EndTime:       toMicro(fs.EndTime),
		Status:        string(fs.Status),
		Progress:      fs.Progress,
		TimeElapsed:   fs.TimeElapsed,
		PauseDuration: fs.PauseDuration,
		PausedAt:      toMicroPtr(fs.PausedAt),
		Reason:        fs.Reason,
		UpdatedAt:     toMicro(fs.UpdatedAt),
		Synced:        fs.Synced,
	}
}

func validateSession(fs Session) error {
	switch {
	case fs.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSession)
	case !fs.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, fs.Status)
	case fs.TimeElapsed < 0 || fs.PauseDuration < 0:
		return fmt.Errorf("%w: negative time", ErrInvalidSession)
	case fs.StartTime.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidSession)
	}
	return nil
}

// progressOf is the integer percentage of the planned duration spent focused.
func progressOf(elapsed, duration int) int {
	if duration <= 0 {
		return 0
	}
	p := elapsed * 100 / duration
	if p > 100 {
		return 100
	}
	return p
}

const sessionColumns = `local_id, server_id, client_id, task_id, duration, start_time, end_time, status,
	progress, time_elapsed, pause_duration, paused_at, reason, updated_at, synced`

const insertSession = `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (:local_id, :server_id, :client_id, :task_id, :duration, :start_time, :end_time, :status,
		:progress, :time_elapsed, :pause_duration, :paused_at, :reason, :updated_at, :synced)`

// CreateSession records a session that exists only on this device until
// synced. EndTime defaults to StartTime plus Duration and Progress is derived
// from TimeElapsed.
func (s *Store) CreateSession(ctx context.Context, fs Session) (Session, error) {
	fs.LocalID = uuid.NewString()
	fs.ServerID = ""
	fs.ClientID = newClientID()
	fs.StartTime = fs.StartTime.UTC().Truncate(time.Microsecond)
	if fs.EndTime.IsZero() {
		fs.EndTime = fs.StartTime.Add(time.Duration(fs.Duration) * time.Second)
	}
	fs.Progress = progressOf(fs.TimeElapsed, fs.Duration)
	fs.UpdatedAt = s.clock()
	fs.Synced = false
	if err := validateSession(fs); err != nil {
		return Session{}, err
	}

	if _, err := s.db.NamedExecContext(ctx, insertSession, fs.row()); err != nil {
		return Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return fs, nil
}

// UpdateSession applies edit to the session and queues the result for upload.
func (s *Store) UpdateSession(ctx context.Context, localID string, edit func(*Session)) (Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getSession(ctx, tx, "local_id", localID)
	if err != nil {
		return Session{}, err
	}

	next := *current
	edit(&next)
	next.LocalID = current.LocalID
	next.ServerID = current.ServerID
	next.ClientID = current.ClientID
	next.Duration = current.Duration
	next.StartTime = current.StartTime
	next.Progress = progressOf(next.TimeElapsed, next.Duration)
	next.UpdatedAt = s.stamp(current.UpdatedAt)
	next.Synced = false
	if err := validateSession(next); err != nil {
		return Session{}, err
	}

	const query = `
		UPDATE sessions SET task_id = :task_id, end_time = :end_time, status = :status,
			progress = :progress, time_elapsed = :time_elapsed, pause_duration = :pause_duration,
			paused_at = :paused_at, reason = :reason, updated_at = :updated_at, synced = :synced
		WHERE local_id = :local_id`
	if _, err := tx.NamedExecContext(ctx, query, next.row()); err != nil {
		return Session{}, fmt.Errorf("updating session %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("committing session update: %w", err)
	}
	return next, nil
}

// GetSession returns the session with the given local id.
func (s *Store) GetSession(ctx context.Context, localID string) (*Session, error) {
	return getSession(ctx, s.db, "local_id", localID)
}

// FindSession looks a session up by server id, falling back to client id.
func (s *Store) FindSession(ctx context.Context, serverID, clientID string) (*Session, error) {
	if serverID != "" {
		fs, err := getSession(ctx, s.db, "server_id", serverID)
		if !errors.Is(err, ErrNotFound) {
			return fs, err
		}
	}
	if clientID != "" {
		return getSession(ctx, s.db, "client_id", clientID)
	}
	return nil, ErrNotFound
}

// ListSessions returns every local session, most recent start first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+sessionColumns+" FROM sessions ORDER BY start_time DESC"); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.session())
	}
	return sessions, nil
}

// ApplyServerSession stores a copy chosen by the conflict resolver, with the
// same insert-or-guarded-overwrite rule as ApplyServerTask.
func (s *Store) ApplyServerSession(ctx context.Context, fs Session, prev *time.Time) (bool, error) {
	if prev == nil {
		if _, err := s.db.NamedExecContext(ctx, insertSession, fs.row()); err != nil {
			return false, fmt.Errorf("inserting server session %s: %w", fs.ServerID, err)
		}
		return true, nil
	}

	r := fs.row()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET server_id = ?, client_id = ?, task_id = ?, duration = ?, start_time = ?,
			end_time = ?, status = ?, progress = ?, time_elapsed = ?, pause_duration = ?,
			paused_at = ?, reason = ?, updated_at = ?, synced = ?
		WHERE local_id = ? AND updated_at = ?`,
		r.ServerID, r.ClientID, r.TaskID, r.Duration, r.StartTime,
		r.EndTime, r.Status, r.Progress, r.TimeElapsed, r.PauseDuration,
		r.PausedAt, r.Reason, r.UpdatedAt, r.Synced,
		r.LocalID, toMicro(*prev))
	if err != nil {
		return false, fmt.Errorf("updating server session %s: %w", fs.ServerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating server session %s: %w", fs.ServerID, err)
	}
	return n > 0, nil
}

func (s *Store) unsyncedSessions(ctx context.Context) ([]model.SyncOperation, error) {
	var rows []sessionRow
	query := "SELECT " + sessionColumns + " FROM sessions WHERE synced = 0 ORDER BY updated_at ASC"
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing unsynced sessions: %w", err)
	}

	ops := make([]model.SyncOperation, 0, len(rows))
	for _, r := range rows {
		fs := r.session()
		h := model.OpHeader{LocalID: fs.LocalID, ID: fs.Ref(), At: fs.UpdatedAt}
		data := model.SessionPayload{
			TaskID:        fs.TaskID,
			Duration:      fs.Duration,
			StartTime:     fs.StartTime,
			EndTime:       fs.EndTime,
			Status:        fs.Status,
			Progress:      fs.Progress,
			TimeElapsed:   fs.TimeElapsed,
			PauseDuration: fs.PauseDuration,
			PausedAt:      fs.PausedAt,
			Reason:        fs.Reason,
		}
		if fs.ServerID == "" {
			ops = append(ops, model.SessionCreate{OpHeader: h, Data: data})
		} else {
			ops = append(ops, model.SessionUpdate{OpHeader: h, Data: data})
		}
	}
	return ops, nil
}

func getSession(ctx context.Context, q sqlx.QueryerContext, column, value string) (*Session, error) {
	var r sessionRow
	err := sqlx.GetContext(ctx, q, &r, "SELECT "+sessionColumns+" FROM sessions WHERE "+column+" = ?", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session by %s: %w", column, err)
	}
	fs := r.session()
	return &fs, nil
}
