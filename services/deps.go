package services

import (
	"context"
	"time"

	"readStreakAPI/internal/cache"
	"readStreakAPI/internal/ledger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/store"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/timeboundary"
	"readStreakAPI/internal/user"
)

// StreakStore is the streak row and action log persistence.
type StreakStore interface {
	GetStreak(ctx context.Context, userID string) (*streak.Streak, error)
	WithStreakLock(ctx context.Context, userID string, fn store.StreakUpdate) (*streak.Streak, error)
	LatestAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error)
	PendingAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error)
	ActionByKey(ctx context.Context, key string) (*streak.Action, error)
}

type ViewStore interface {
	InsertView(ctx context.Context, v rank.View) (bool, error)
	ViewsBetween(ctx context.Context, userID string, from, to time.Time) ([]rank.View, error)
}

type UserStore interface {
	Preferences(ctx context.Context, userID string) (*user.Preferences, error)
	CoresRole(ctx context.Context, userID string) (user.CoresRole, error)
}

type RecoverableCache interface {
	Put(ctx context.Context, userID string, length int, at time.Time) error
	Get(ctx context.Context, userID string) (*cache.Entry, error)
	Clear(ctx context.Context, userID string) error
}

type Ledger interface {
	Transfer(ctx context.Context, key string, transfers []ledger.Transfer) (*ledger.TransferResult, error)
	GetBalance(ctx context.Context, userID string) (int, error)
}

// loadCalendar resolves the user's local frame.
func loadCalendar(ctx context.Context, users UserStore, userID string) (streak.Calendar, *user.Preferences, error) {
	prefs, err := users.Preferences(ctx, userID)
	if err != nil {
		return streak.Calendar{}, nil, err
	}
	loc, err := prefs.Location()
	if err != nil {
		return streak.Calendar{}, nil, err
	}
	return streak.Calendar{Location: loc, WeekStart: prefs.WeekStart}, prefs, nil
}

func buildSnapshot(st *streak.Streak, now time.Time, cal streak.Calendar, prefs *user.Preferences) *streak.Snapshot {
	readToday := st.LastViewAt != nil &&
		st.CurrentStreak > 0 &&
		timeboundary.DaysBetween(*st.LastViewAt, now, cal.Location) == 0

	return &streak.Snapshot{
		Current:    st.CurrentStreak,
		Max:        st.MaxStreak,
		Total:      st.TotalStreak,
		LastViewAt: st.LastViewAt,
		State:      st.State().Phase,
		ReadToday:  readToday,
		Timezone:   cal.Location.String(),
		WeekStart:  int(prefs.WeekStart),
	}
}
