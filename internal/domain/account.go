package domain

import "time"

// DefaultSchedule is the system fallback used when a campaign's schedule is
// missing or malformed: weekday business hours, UTC.
var DefaultSchedule = SendingSchedule{
	StartHour:       9,
	EndHour:         17,
	AllowedWeekdays: []int{1, 2, 3, 4, 5},
	Timezone:        "UTC",
}

// SendingSchedule describes the allowed send window for a campaign:
// [StartHour, EndHour) on AllowedWeekdays, evaluated in Timezone.
// Weekdays use time.Weekday numbering (0=Sunday .. 6=Saturday).
type SendingSchedule struct {
	StartHour       int    `json:"start_hour" yaml:"start_hour"`
	EndHour         int    `json:"end_hour" yaml:"end_hour"`
	AllowedWeekdays []int  `json:"allowed_weekdays" yaml:"allowed_weekdays"`
	Timezone        string `json:"timezone" yaml:"timezone"`
}

// IsValid reports whether the schedule satisfies its invariants:
// StartHour < EndHour, hours in range, and a non-empty weekday set.
func (s SendingSchedule) IsValid() bool {
	if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 1 || s.EndHour > 24 {
		return false
	}
	if s.StartHour >= s.EndHour {
		return false
	}
	return len(s.AllowedWeekdays) > 0
}

// Normalize returns the schedule itself when valid, otherwise the system
// default. Callers never need to handle a malformed schedule downstream.
func (s SendingSchedule) Normalize() SendingSchedule {
	if !s.IsValid() {
		return DefaultSchedule
	}
	return s
}

// AllowsWeekday reports whether the given weekday is in the allowed set.
func (s SendingSchedule) AllowsWeekday(d time.Weekday) bool {
	for _, wd := range s.AllowedWeekdays {
		if time.Weekday(wd) == d {
			return true
		}
	}
	return false
}

// AccountStatus enumerates sending account states.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// HealthDeactivateThreshold is the health score below which an account is
// automatically deactivated by the maintenance worker.
const HealthDeactivateThreshold = 25

// SendAccount is a connected mailbox used to send campaign emails.
// SentToday is reset to zero by the daily maintenance task; HealthScore is
// recomputed on every bounce/spam/error event.
type SendAccount struct {
	ID          string `json:"id" db:"id"`
	TeamID      string `json:"team_id" db:"team_id"`
	Email       string `json:"email" db:"email"`
	DailyLimit  int    `json:"daily_limit" db:"daily_limit"`
	SentToday   int    `json:"sent_today" db:"sent_today"`
	HealthScore int    `json:"health_score" db:"health_score"`
	IsActive    bool   `json:"is_active" db:"is_active"`
	IsVerified  bool   `json:"is_verified" db:"is_verified"`

	BounceCount int `json:"bounce_count" db:"bounce_count"`
	SpamCount   int `json:"spam_count" db:"spam_count"`
	ErrorCount  int `json:"error_count" db:"error_count"`

	LastConnectedAt *time.Time `json:"last_connected_at" db:"last_connected_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// RemainingToday returns how many more sends the account may perform today.
func (a *SendAccount) RemainingToday() int {
	r := a.DailyLimit - a.SentToday
	if r < 0 {
		return 0
	}
	return r
}
