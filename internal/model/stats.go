package model

// DayLayout is the calendar-day key format used for daily aggregates.
const DayLayout = "2006-01-02"

// DailyStat is the per-user, per-day rollup maintained by the session lifecycle.
// As a delta it carries increments rather than totals.
type DailyStat struct {
	UserID            int64  `json:"-"`
	Day               string `json:"day"`
	TotalSessions     int    `json:"totalSessions"`
	CompletedSessions int    `json:"completedSessions"`
	FailedSessions    int    `json:"failedSessions"`
	TotalFocusTime    int    `json:"totalFocusTime"`
	TasksCompleted    int    `json:"tasksCompleted"`
}

// StatsPeriod selects the window of a stats summary.
type StatsPeriod string

const (
	PeriodDay   StatsPeriod = "day"
	PeriodWeek  StatsPeriod = "week"
	PeriodMonth StatsPeriod = "month"
	PeriodYear  StatsPeriod = "year"
)

// Days returns how many calendar days the period covers, or 0 if unknown.
func (p StatsPeriod) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	case PeriodYear:
		return 365
	}
	return 0
}

// StatsSummary is the read-only aggregate served to dashboards.
type StatsSummary struct {
	Period            StatsPeriod `json:"period"`
	From              string      `json:"from"`
	To                string      `json:"to"`
	TotalSessions     int         `json:"totalSessions"`
	CompletedSessions int         `json:"completedSessions"`
	FailedSessions    int         `json:"failedSessions"`
	TotalFocusTime    int         `json:"totalFocusTime"`
	TasksCompleted    int         `json:"tasksCompleted"`
	CompletionRate    float64     `json:"completionRate"`
	CurrentStreak     int         `json:"currentStreak"`
	LongestStreak     int         `json:"longestStreak"`
	Days              []DailyStat `json:"days"`
}
