package model

import "time"

// UserTier decides which usage limits apply.
type UserTier string

const (
	TierFree    UserTier = "free"
	TierPremium UserTier = "premium"
)

// User holds the focus statistics the session lifecycle maintains.
// Accounts themselves are provisioned by the auth service.
type User struct {
	ID                int64
	Tier              UserTier
	Timezone          string
	TotalFocusTime    int
	CompletedSessions int
	CurrentStreak     int
	LongestStreak     int
	LastSessionDate   string // YYYY-MM-DD in the user's timezone, empty before the first completion
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Location returns the user's timezone, falling back to UTC when unset or unknown.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
