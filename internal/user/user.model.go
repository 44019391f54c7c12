package user

import (
	"time"

	"readStreakAPI/internal/timeboundary"
)

// Preferences are owned by the profile subsystem; the streak engine only
// reads them.
type Preferences struct {
	UserID    string                 `json:"userId" db:"id"`
	Timezone  string                 `json:"timezone" db:"timezone"`
	WeekStart timeboundary.WeekStart `json:"weekStart" db:"week_start"`
}

func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:    userID,
		Timezone:  "UTC",
		WeekStart: timeboundary.DefaultWeekStart,
	}
}

// Location resolves the stored timezone. A bad value is a ConfigError.
func (p *Preferences) Location() (*time.Location, error) {
	return timeboundary.LoadLocation(p.Timezone)
}

type CoresRole string

const (
	CoresRoleNone     CoresRole = "none"
	CoresRoleReadOnly CoresRole = "readonly"
	CoresRoleUser     CoresRole = "user"
	CoresRoleCreator  CoresRole = "creator"
)

// CanSpend reports whether the role may move Cores out of the user's balance.
func (r CoresRole) CanSpend() bool {
	return r == CoresRoleUser || r == CoresRoleCreator
}
