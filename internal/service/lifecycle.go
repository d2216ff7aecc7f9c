package service

import (
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

const (
	// GracePeriod is how many seconds past its duration a session may still be
	// completed, and how long a RUNNING session may outlive its end time before
	// it is considered abandoned.
	GracePeriod = 600

	MinDurationMinutes = 5
	MaxDurationMinutes = 240
)

// timestampPrecision matches the DATETIME(6) columns so values survive a round trip.
const timestampPrecision = time.Microsecond

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(timestampPrecision)
}

// nextUpdatedAt keeps updatedAt strictly increasing per entity even if the
// server clock steps backwards or two writes land in the same microsecond.
func nextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(timestampPrecision)
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// elapsedAt returns the focus seconds a session has accumulated at now.
// A paused session stops accumulating at pausedAt.
func elapsedAt(s *model.FocusSession, now time.Time) int {
	ref := now
	if s.Status == model.SessionPaused && s.PausedAt != nil {
		ref = *s.PausedAt
	}
	elapsed := seconds(ref.Sub(s.StartTime)) - s.PauseDuration
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func progressOf(elapsed, duration int) int {
	if duration <= 0 {
		return 0
	}
	return clamp(elapsed*100/duration, 0, 100)
}

// terminalError reports why a finished session cannot transition again.
func terminalError(s *model.FocusSession) error {
	switch s.Status {
	case model.SessionCompleted:
		return ErrSessionAlreadyCompleted
	case model.SessionFailed:
		return ErrSessionAlreadyFailed
	}
	return nil
}

// stale reports whether a RUNNING session outlived its end time plus the grace period.
func stale(s *model.FocusSession, now time.Time) bool {
	return s.Status == model.SessionRunning &&
		now.After(s.EndTime.Add(GracePeriod*time.Second))
}

func validDurationMinutes(m int) bool {
	return m >= MinDurationMinutes && m <= MaxDurationMinutes
}

// newSession builds a RUNNING session starting at now.
func newSession(userID int64, id, taskID string, durationMinutes int, now time.Time) *model.FocusSession {
	duration := durationMinutes * 60
	return &model.FocusSession{
		ID:               id,
		UserID:           userID,
		TaskID:           taskID,
		Duration:         duration,
		StartTime:        now,
		EndTime:          now.Add(time.Duration(duration) * time.Second),
		Status:           model.SessionRunning,
		UpdatedAt:        now,
		ServerModifiedAt: now,
	}
}

// pause moves a RUNNING session to PAUSED. It returns ErrSessionExpired without
// modifying s when the end time has already passed.
func pause(s *model.FocusSession, now time.Time) error {
	if err := terminalError(s); err != nil {
		return err
	}
	if s.Status != model.SessionRunning {
		return ErrInvalidSessionStatus
	}
	if now.After(s.EndTime) {
		return ErrSessionExpired
	}

	elapsed := clamp(elapsedAt(s, now), 0, s.Duration)
	pausedAt := now
	s.Status = model.SessionPaused
	s.PausedAt = &pausedAt
	s.TimeElapsed = elapsed
	s.Progress = progressOf(elapsed, s.Duration)
	return nil
}

// resume moves a PAUSED session back to RUNNING and pushes its end time out by
// the remaining focus time.
func resume(s *model.FocusSession, now time.Time) error {
	if err := terminalError(s); err != nil {
		return err
	}
	if s.Status != model.SessionPaused || s.PausedAt == nil {
		return ErrInvalidSessionStatus
	}

	actualElapsed := seconds(s.PausedAt.Sub(s.StartTime)) - s.PauseDuration
	if actualElapsed >= s.Duration {
		return ErrSessionExpired
	}
	if actualElapsed < 0 {
		actualElapsed = 0
	}

	s.PauseDuration += max(seconds(now.Sub(*s.PausedAt)), 0)
	s.EndTime = now.Add(time.Duration(s.Duration-actualElapsed) * time.Second)
	s.PausedAt = nil
	s.Status = model.SessionRunning
	return nil
}

// closePause folds an open pause into pauseDuration before a terminal transition.
func closePause(s *model.FocusSession, now time.Time) {
	if s.Status == model.SessionPaused && s.PausedAt != nil {
		s.PauseDuration += max(seconds(now.Sub(*s.PausedAt)), 0)
		s.PausedAt = nil
	}
}

// complete finishes a session. A nil actual derives the focus time from the
// server clock, capped at the planned duration. It returns the recorded seconds.
func complete(s *model.FocusSession, now time.Time, actual *int) (int, error) {
	if err := terminalError(s); err != nil {
		return 0, err
	}
	if !s.Status.Active() {
		return 0, ErrInvalidSessionStatus
	}

	var focus int
	if actual != nil {
		if *actual < 0 || *actual > s.Duration+GracePeriod {
			return 0, ErrInvalidActualDuration
		}
		focus = *actual
	} else {
		focus = min(elapsedAt(s, now), s.Duration)
	}

	closePause(s, now)
	s.Status = model.SessionCompleted
	s.Progress = 100
	s.TimeElapsed = focus
	s.Reason = ""
	return focus, nil
}

// fail abandons a session, snapshotting the focus time reached so far.
func fail(s *model.FocusSession, now time.Time, reason string) error {
	if err := terminalError(s); err != nil {
		return err
	}
	if !s.Status.Active() {
		return ErrInvalidSessionStatus
	}
	if reason == "" {
		reason = model.ReasonAbandoned
	}

	elapsed := min(elapsedAt(s, now), s.Duration)
	closePause(s, now)
	s.Status = model.SessionFailed
	s.Reason = reason
	s.TimeElapsed = elapsed
	s.Progress = progressOf(elapsed, s.Duration)
	return nil
}

// advanceStreak applies a completion on day (YYYY-MM-DD in the user's timezone)
// to the user's streak counters. Completions older than the last recorded day
// leave the streak alone.
func advanceStreak(u *model.User, day string) {
	switch {
	case u.LastSessionDate == "":
		u.CurrentStreak = 1
	case day == u.LastSessionDate:
		if u.CurrentStreak == 0 {
			u.CurrentStreak = 1
		}
	case day < u.LastSessionDate:
		return
	case previousDay(day) == u.LastSessionDate:
		u.CurrentStreak++
	default:
		u.CurrentStreak = 1
	}

	u.LastSessionDate = day
	if u.CurrentStreak > u.LongestStreak {
		u.LongestStreak = u.CurrentStreak
	}
}

func previousDay(day string) string {
	t, err := time.Parse(model.DayLayout, day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(model.DayLayout)
}

// dayIn returns the calendar day of t in loc.
func dayIn(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(model.DayLayout)
}
