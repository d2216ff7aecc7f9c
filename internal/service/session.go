package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
)

// SessionService runs the focus session state machine. Every transition is one
// transaction that locks the user row and then the session row.
type SessionService struct {
	store          repository.Store
	stats          *StatsService
	freeDailyLimit int
	now            func() time.Time
}

// NewSessionService creates a new SessionService. freeDailyLimit caps completed
// sessions per day for free-tier users; 0 disables the cap.
func NewSessionService(store repository.Store, stats *StatsService, freeDailyLimit int) *SessionService {
	return &SessionService{
		store:          store,
		stats:          stats,
		freeDailyLimit: freeDailyLimit,
		now:            time.Now,
	}
}

func (s *SessionService) clock() time.Time {
	return normalize(s.now())
}

// Create starts a RUNNING session for the user.
func (s *SessionService) Create(ctx context.Context, userID int64, req model.CreateSessionRequest) (*model.FocusSession, error) {
	if !validDurationMinutes(req.DurationMinutes) {
		return nil, ErrInvalidDuration
	}

	var created *model.FocusSession
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return translateRepoError(err)
		}
		now := s.clock()

		active, err := tx.GetActiveSessionForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading active session: %w", err)
		}
		if active != nil && stale(active, now) {
			if err := expire(ctx, tx, s.stats, user, active, now); err != nil {
				return err
			}
			active = nil
		}
		if active != nil {
			return ErrActiveSessionExists
		}

		if user.Tier == model.TierFree && s.freeDailyLimit > 0 {
			today, err := tx.GetDailyStat(ctx, userID, dayIn(now, user.Location()))
			if err != nil {
				return fmt.Errorf("loading daily stats: %w", err)
			}
			if today.CompletedSessions >= s.freeDailyLimit {
				return ErrSessionLimitExceeded
			}
		}

		fs := newSession(userID, uuid.NewString(), req.TaskID, req.DurationMinutes, now)

		if req.TaskID != "" {
			task, err := tx.GetTaskForUpdate(ctx, userID, req.TaskID)
			if err != nil {
				return translateRepoError(err)
			}
			if task.Status.Closed() {
				return ErrInvalidTaskStatus
			}
			if task.Status == model.TaskTodo {
				task.Status = model.TaskInProgress
				if err := saveTask(ctx, tx, task, now); err != nil {
					return err
				}
				fs.TaskAutoStarted = true
			}
		}

		if err := tx.InsertSession(ctx, fs); err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		created = fs
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("session created", "user_id", userID, "session_id", created.ID, "duration", created.Duration)
	return created, nil
}

// Pause moves a RUNNING session to PAUSED. A session past its end time is
// failed with reason TIMEOUT and ErrSessionExpired is returned; the failure
// is still committed.
func (s *SessionService) Pause(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
	return s.transition(ctx, userID, id, func(tx repository.Tx, user *model.User, fs *model.FocusSession, now time.Time) error {
		return pause(fs, now)
	})
}

// Resume moves a PAUSED session back to RUNNING.
func (s *SessionService) Resume(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
	return s.transition(ctx, userID, id, func(tx repository.Tx, user *model.User, fs *model.FocusSession, now time.Time) error {
		return resume(fs, now)
	})
}

// Complete finishes a session and credits the focus time to the user, the
// linked task and today's aggregate.
func (s *SessionService) Complete(ctx context.Context, userID int64, id string, req model.CompleteSessionRequest) (*model.FocusSession, error) {
	return s.transition(ctx, userID, id, func(tx repository.Tx, user *model.User, fs *model.FocusSession, now time.Time) error {
		focus, err := complete(fs, now, req.ActualDuration)
		if err != nil {
			return err
		}
		return recordCompletion(ctx, tx, s.stats, user, fs, focus, dayIn(now, user.Location()), now)
	})
}

// Fail abandons a session with the given reason.
func (s *SessionService) Fail(ctx context.Context, userID int64, id string, req model.FailSessionRequest) (*model.FocusSession, error) {
	if utf8.RuneCountInString(req.Reason) > model.MaxReasonLength {
		return nil, ErrInvalidReason
	}
	return s.transition(ctx, userID, id, func(tx repository.Tx, user *model.User, fs *model.FocusSession, now time.Time) error {
		if err := fail(fs, now, req.Reason); err != nil {
			return err
		}
		return recordFailure(ctx, tx, s.stats, user, fs, dayIn(now, user.Location()), now)
	})
}

// Active returns the user's RUNNING or PAUSED session, or nil. A RUNNING
// session left unattended past its grace period is failed on read.
func (s *SessionService) Active(ctx context.Context, userID int64) (*model.FocusSession, error) {
	fs, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading active session: %w", err)
	}
	if fs == nil || !stale(fs, s.clock()) {
		return fs, nil
	}

	var active *model.FocusSession
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return translateRepoError(err)
		}
		now := s.clock()

		current, err := tx.GetActiveSessionForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading active session: %w", err)
		}
		if current != nil && stale(current, now) {
			return expire(ctx, tx, s.stats, user, current, now)
		}
		active = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

// Stats returns the aggregate for period as of now.
func (s *SessionService) Stats(ctx context.Context, userID int64, period model.StatsPeriod) (*model.StatsSummary, error) {
	return s.stats.Summary(ctx, userID, period, s.clock())
}

type transitionFunc func(tx repository.Tx, user *model.User, fs *model.FocusSession, now time.Time) error

func (s *SessionService) transition(ctx context.Context, userID int64, id string, apply transitionFunc) (*model.FocusSession, error) {
	var (
		result  *model.FocusSession
		expired bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return translateRepoError(err)
		}
		now := s.clock()

		fs, err := tx.GetSessionForUpdate(ctx, userID, id)
		if err != nil {
			return translateRepoError(err)
		}

		err = apply(tx, user, fs, now)
		if errors.Is(err, ErrSessionExpired) {
			if err := expire(ctx, tx, s.stats, user, fs, now); err != nil {
				return err
			}
			expired = true
			result = fs
			return nil
		}
		if err != nil {
			return err
		}

		if err := saveSession(ctx, tx, fs, now); err != nil {
			return err
		}
		result = fs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		slog.Warn("session expired", "user_id", userID, "session_id", id)
		return result, ErrSessionExpired
	}
	return result, nil
}

// expire fails an overdue session with reason TIMEOUT.
func expire(ctx context.Context, tx repository.Tx, stats *StatsService, user *model.User, fs *model.FocusSession, now time.Time) error {
	if err := fail(fs, now, model.ReasonTimeout); err != nil {
		return err
	}
	if err := recordFailure(ctx, tx, stats, user, fs, dayIn(now, user.Location()), now); err != nil {
		return err
	}
	return saveSession(ctx, tx, fs, now)
}

func saveSession(ctx context.Context, tx repository.Tx, fs *model.FocusSession, now time.Time) error {
	fs.UpdatedAt = nextUpdatedAt(fs.UpdatedAt, now)
	fs.ServerModifiedAt = now
	if err := tx.UpdateSession(ctx, fs); err != nil {
		return fmt.Errorf("updating session %s: %w", fs.ID, err)
	}
	return nil
}

func saveTask(ctx context.Context, tx repository.Tx, task *model.Task, now time.Time) error {
	task.UpdatedAt = nextUpdatedAt(task.UpdatedAt, now)
	task.ServerModifiedAt = now
	if err := tx.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	return nil
}

// recordCompletion credits focus seconds to the user totals and streak, the
// linked task and the daily aggregate for day.
func recordCompletion(ctx context.Context, tx repository.Tx, stats *StatsService, user *model.User, fs *model.FocusSession, focus int, day string, now time.Time) error {
	user.TotalFocusTime += focus
	user.CompletedSessions++
	advanceStreak(user, day)
	if err := tx.UpdateUserStats(ctx, user); err != nil {
		return fmt.Errorf("updating user stats: %w", err)
	}

	if fs.TaskID != "" && focus >= 60 {
		task, err := tx.GetTaskForUpdate(ctx, user.ID, fs.TaskID)
		switch {
		case errors.Is(err, repository.ErrTaskNotFound):
			// Weak reference; the task may live only on another device so far.
		case err != nil:
			return fmt.Errorf("loading task %s: %w", fs.TaskID, err)
		default:
			task.ActualMinutes += focus / 60
			if err := saveTask(ctx, tx, task, now); err != nil {
				return err
			}
		}
	}

	return stats.Record(ctx, tx, user.ID, day, model.DailyStat{
		TotalSessions:     1,
		CompletedSessions: 1,
		TotalFocusTime:    focus,
	})
}

// recordFailure returns an auto-started task to TODO and counts the failure.
func recordFailure(ctx context.Context, tx repository.Tx, stats *StatsService, user *model.User, fs *model.FocusSession, day string, now time.Time) error {
	if fs.TaskID != "" && fs.TaskAutoStarted {
		task, err := tx.GetTaskForUpdate(ctx, user.ID, fs.TaskID)
		switch {
		case errors.Is(err, repository.ErrTaskNotFound):
		case err != nil:
			return fmt.Errorf("loading task %s: %w", fs.TaskID, err)
		case task.Status == model.TaskInProgress:
			task.Status = model.TaskTodo
			if err := saveTask(ctx, tx, task, now); err != nil {
				return err
			}
		}
	}

	return stats.Record(ctx, tx, user.ID, day, model.DailyStat{
		TotalSessions:  1,
		FailedSessions: 1,
	})
}

func translateRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, repository.ErrTaskNotFound):
		return ErrTaskNotFound
	}
	return err
}
