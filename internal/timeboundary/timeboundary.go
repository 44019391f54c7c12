// Package timeboundary computes local day and week boundaries for a user's
// timezone and configured week start.
package timeboundary

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"readStreakAPI/internal/errs"
)

type WeekStart int

const (
	Sunday WeekStart = 0
	Monday WeekStart = 1
)

const DefaultWeekStart = Monday

func (w WeekStart) Weekday() time.Weekday {
	return time.Weekday(w)
}

func (w WeekStart) String() string {
	if w == Sunday {
		return "sunday"
	}
	return "monday"
}

// ParseWeekStart accepts "monday", "sunday" or their numeric weekday form.
// An empty value yields the default.
func ParseWeekStart(raw string) (WeekStart, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultWeekStart, nil
	case "monday", "1":
		return Monday, nil
	case "sunday", "0":
		return Sunday, nil
	}
	return DefaultWeekStart, errs.New(errs.KindConfig, fmt.Errorf("invalid week start %q", raw))
}

// WeekStartFromInt validates a week start stored as a weekday number.
func WeekStartFromInt(v int) (WeekStart, error) {
	return ParseWeekStart(strconv.Itoa(v))
}

// LoadLocation resolves an IANA timezone name. An empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errs.New(errs.KindConfig, fmt.Errorf("invalid timezone %q: %w", name, err))
	}
	return loc, nil
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// StartOfWeek returns local midnight of the most recent weekStart day on or
// before t.
func StartOfWeek(t time.Time, loc *time.Location, weekStart WeekStart) time.Time {
	local := t.In(loc)
	offset := DaysIntoWeek(local.Weekday(), weekStart)
	y, m, d := local.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}

// DaysIntoWeek is the zero-based position of day within a week that begins
// on weekStart.
func DaysIntoWeek(day time.Weekday, weekStart WeekStart) int {
	return (int(day) - int(weekStart.Weekday()) + 7) % 7
}

// DaysBetween counts local calendar days from a to b. It is negative when b
// falls on an earlier local date than a.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// AddDays moves a local midnight by n calendar days, staying on midnight
// across DST changes.
func AddDays(day time.Time, n int, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, loc)
}
