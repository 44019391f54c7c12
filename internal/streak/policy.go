// Package streak models a user's reading streak and the calendar policy that
// decides when it continues or breaks.
package streak

import (
	"time"

	"readStreakAPI/internal/timeboundary"
)

// Calendar is the user-local frame a streak is evaluated in.
type Calendar struct {
	Location  *time.Location
	WeekStart timeboundary.WeekStart
}

// IsWeekend reports whether day is one of the last two days of a week that
// starts on weekStart. Missing a weekend day never breaks a streak.
func IsWeekend(day time.Weekday, weekStart timeboundary.WeekStart) bool {
	return timeboundary.DaysIntoWeek(day, weekStart) >= 5
}

// Broken reports whether a streak last extended on lastView has lapsed by
// now: some non-weekend local day lies strictly between the two.
func (c Calendar) Broken(lastView, now time.Time) bool {
	gap := timeboundary.DaysBetween(lastView, now, c.Location)
	if gap <= 1 {
		return false
	}
	// Three or more skipped days always include a weekday.
	if gap > 3 {
		return true
	}
	lastDay := timeboundary.StartOfDay(lastView, c.Location)
	for i := 1; i < gap; i++ {
		day := timeboundary.AddDays(lastDay, i, c.Location)
		if !IsWeekend(day.Weekday(), c.WeekStart) {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStarted   Outcome = "started"
	OutcomeContinued Outcome = "continued"
	OutcomeReset     Outcome = "reset"
	// OutcomeRestarted is a reset followed by the view that starts a new streak.
	OutcomeRestarted Outcome = "restarted"
)

type Evaluation struct {
	Outcome Outcome
	Next    Streak
	// Snapshot is the pre-reset length to offer for recovery, zero when the
	// evaluation did not zero an active streak.
	Snapshot int
}

func (e Evaluation) Changed() bool {
	return e.Outcome != OutcomeUnchanged
}

// Evaluate applies the continuation/reset rule at now. With view set, now is
// a new qualifying view; otherwise it is a read of the streak.
func Evaluate(s Streak, now time.Time, cal Calendar, view bool) Evaluation {
	next := s

	if s.LastViewAt == nil {
		if !view {
			return Evaluation{Outcome: OutcomeUnchanged, Next: next}
		}
		next.CurrentStreak = 0
		countView(&next, now)
		return Evaluation{Outcome: OutcomeStarted, Next: next}
	}

	// Same local day, or an out-of-order event from an earlier day.
	if timeboundary.DaysBetween(*s.LastViewAt, now, cal.Location) <= 0 {
		return Evaluation{Outcome: OutcomeUnchanged, Next: next}
	}

	if !cal.Broken(*s.LastViewAt, now) {
		if !view {
			return Evaluation{Outcome: OutcomeUnchanged, Next: next}
		}
		outcome := OutcomeContinued
		if s.CurrentStreak == 0 {
			outcome = OutcomeStarted
		}
		countView(&next, now)
		return Evaluation{Outcome: outcome, Next: next}
	}

	snapshot := s.CurrentStreak
	next.CurrentStreak = 0
	if !view {
		if snapshot == 0 {
			return Evaluation{Outcome: OutcomeUnchanged, Next: next}
		}
		return Evaluation{Outcome: OutcomeReset, Next: next, Snapshot: snapshot}
	}

	countView(&next, now)
	if snapshot == 0 {
		return Evaluation{Outcome: OutcomeStarted, Next: next}
	}
	return Evaluation{Outcome: OutcomeRestarted, Next: next, Snapshot: snapshot}
}

func countView(s *Streak, now time.Time) {
	s.CurrentStreak++
	s.TotalStreak++
	if s.CurrentStreak > s.MaxStreak {
		s.MaxStreak = s.CurrentStreak
	}
	at := now
	s.LastViewAt = &at
}

// Restore puts a recovered streak back. When the user already has a streak
// going again today it is stacked on top of the recovered length; from zero
// the streak is restored as if it was last extended yesterday.
func Restore(s Streak, oldLength int, now time.Time, cal Calendar) Streak {
	next := s
	if s.CurrentStreak > 0 {
		next.CurrentStreak = oldLength + 1
	} else {
		next.CurrentStreak = oldLength
		yesterday := timeboundary.AddDays(timeboundary.StartOfDay(now, cal.Location), -1, cal.Location)
		if s.LastViewAt == nil || s.LastViewAt.Before(yesterday) {
			next.LastViewAt = &yesterday
		}
	}
	if next.CurrentStreak > next.MaxStreak {
		next.MaxStreak = next.CurrentStreak
	}
	return next
}
