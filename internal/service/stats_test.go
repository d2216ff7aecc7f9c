package service

import (
	"context"
	"math"
	"testing"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
)

func TestStatsSummary(t *testing.T) {
	env := newTestEnv(t, model.TierFree)
	ctx := context.Background()
	stats := NewStatsService(env.store)

	record := func(day string, delta model.DailyStat) {
		err := env.store.WithTx(ctx, func(tx repository.Tx) error {
			return stats.Record(ctx, tx, testUserID, day, delta)
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	record("2026-03-10", model.DailyStat{TotalSessions: 1, CompletedSessions: 1, TotalFocusTime: 1500})
	record("2026-03-10", model.DailyStat{TotalSessions: 1, FailedSessions: 1})
	record("2026-03-05", model.DailyStat{TotalSessions: 2, CompletedSessions: 2, TotalFocusTime: 600, TasksCompleted: 1})
	record("2026-02-01", model.DailyStat{TotalSessions: 5, CompletedSessions: 5, TotalFocusTime: 9000})

	tests := []struct {
		period        model.StatsPeriod
		wantFrom      string
		wantTotal     int
		wantCompleted int
		wantFocus     int
		wantDays      int
	}{
		{model.PeriodDay, "2026-03-10", 2, 1, 1500, 1},
		{"", "2026-03-04", 4, 3, 2100, 2},
		{model.PeriodMonth, "2026-02-09", 4, 3, 2100, 2},
		{model.PeriodYear, "2025-03-11", 9, 8, 11100, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			got, err := stats.Summary(ctx, testUserID, tt.period, t0)
			if err != nil {
				t.Fatalf("Summary() error = %v", err)
			}
			if got.From != tt.wantFrom || got.To != "2026-03-10" {
				t.Errorf("range got = %s..%s, want %s..2026-03-10", got.From, got.To, tt.wantFrom)
			}
			if got.TotalSessions != tt.wantTotal || got.CompletedSessions != tt.wantCompleted || got.TotalFocusTime != tt.wantFocus {
				t.Errorf("totals got = %d/%d/%d", got.TotalSessions, got.CompletedSessions, got.TotalFocusTime)
			}
			if len(got.Days) != tt.wantDays {
				t.Errorf("Days got = %d, want %d", len(got.Days), tt.wantDays)
			}
			want := float64(tt.wantCompleted) / float64(tt.wantTotal)
			if math.Abs(got.CompletionRate-want) > 1e-9 {
				t.Errorf("CompletionRate got = %v, want %v", got.CompletionRate, want)
			}
		})
	}
}

func TestStatsSummary_Errors(t *testing.T) {
	env := newTestEnv(t, model.TierFree)
	stats := NewStatsService(env.store)

	if _, err := stats.Summary(context.Background(), testUserID, "decade", t0); err != ErrInvalidPeriod {
		t.Errorf("Summary() error = %v, want %v", err, ErrInvalidPeriod)
	}
	if _, err := stats.Summary(context.Background(), 42, model.PeriodWeek, t0); err != ErrUserNotFound {
		t.Errorf("Summary() error = %v, want %v", err, ErrUserNotFound)
	}
}

func TestStatsSummary_StreakLapses(t *testing.T) {
	env := newTestEnv(t, model.TierFree)
	env.store.AddUser(model.User{ID: 2, CurrentStreak: 4, LongestStreak: 9, LastSessionDate: "2026-03-07"})
	stats := NewStatsService(env.store)

	got, err := stats.Summary(context.Background(), 2, model.PeriodWeek, t0)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if got.CurrentStreak != 0 || got.LongestStreak != 9 {
		t.Errorf("streak got = %d/%d, want 0/9", got.CurrentStreak, got.LongestStreak)
	}
	if got.Days == nil {
		t.Error("Days should be an empty slice, not nil")
	}
}

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(ErrSessionExpired); got != "SESSION_EXPIRED" {
		t.Errorf("ErrorCode() got = %q", got)
	}
	if got := ErrorCode(repository.ErrTaskNotFound); got != "" {
		t.Errorf("ErrorCode() of a repository error got = %q, want empty", got)
	}
}
