package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
)

// StatsService maintains and reads the per-day focus aggregates.
type StatsService struct {
	store repository.Store
}

// NewStatsService creates a new StatsService.
func NewStatsService(store repository.Store) *StatsService {
	return &StatsService{store: store}
}

// Record adds delta to the user's row for day inside the caller's transaction.
func (s *StatsService) Record(ctx context.Context, tx repository.Tx, userID int64, day string, delta model.DailyStat) error {
	delta.Day = day
	if err := tx.AddDailyStat(ctx, userID, delta); err != nil {
		return fmt.Errorf("recording daily stats for %s: %w", day, err)
	}
	return nil
}

// Summary aggregates the user's daily rows for the period ending on the
// current day in the user's timezone. An empty period means a week.
func (s *StatsService) Summary(ctx context.Context, userID int64, period model.StatsPeriod, now time.Time) (*model.StatsSummary, error) {
	if period == "" {
		period = model.PeriodWeek
	}
	days := period.Days()
	if days == 0 {
		return nil, ErrInvalidPeriod
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	local := now.In(user.Location())
	to := local.Format(model.DayLayout)
	from := local.AddDate(0, 0, -(days - 1)).Format(model.DayLayout)

	rows, err := s.store.ListDailyStats(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing daily stats: %w", err)
	}

	summary := &model.StatsSummary{
		Period:        period,
		From:          from,
		To:            to,
		CurrentStreak: currentStreak(user, to),
		LongestStreak: user.LongestStreak,
		Days:          rows,
	}
	if summary.Days == nil {
		summary.Days = []model.DailyStat{}
	}
	for _, d := range rows {
		summary.TotalSessions += d.TotalSessions
		summary.CompletedSessions += d.CompletedSessions
		summary.FailedSessions += d.FailedSessions
		summary.TotalFocusTime += d.TotalFocusTime
		summary.TasksCompleted += d.TasksCompleted
	}
	if summary.TotalSessions > 0 {
		summary.CompletionRate = float64(summary.CompletedSessions) / float64(summary.TotalSessions)
	}

	return summary, nil
}

// currentStreak is the stored streak, or 0 once a full day has passed without a completion.
func currentStreak(u *model.User, today string) int {
	if u.LastSessionDate == today || u.LastSessionDate == previousDay(today) {
		return u.CurrentStreak
	}
	return 0
}
