package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/telemetry"
	"readStreakAPI/internal/timeboundary"
)

// maxClockSkew is how far past the server clock a view may be stamped.
const maxClockSkew = 5 * time.Minute

type StreakService struct {
	streaks StreakStore
	users   UserStore
	views   ViewStore
	cache   RecoverableCache
	log     *logger.Logger
}

func NewStreakService(streaks StreakStore, users UserStore, views ViewStore, cache RecoverableCache, log *logger.Logger) *StreakService {
	return &StreakService{
		streaks: streaks,
		users:   users,
		views:   views,
		cache:   cache,
		log:     log.With("service", "StreakService"),
	}
}

// GetStreak returns the user's streak as of now. A streak that lapsed since
// the last view is reset here, so readers never see a stale count.
func (s *StreakService) GetStreak(ctx context.Context, userID string, now time.Time) (*streak.Snapshot, error) {
	cal, prefs, err := loadCalendar(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}

	st, err := s.streaks.GetStreak(ctx, userID)
	if err != nil {
		return nil, err
	}

	if streak.Evaluate(*st, now, cal, false).Changed() {
		st, err = s.apply(ctx, userID, now, cal, false)
		if err != nil {
			return nil, err
		}
	}
	return buildSnapshot(st, now, cal, prefs), nil
}

// RecordView stores a qualifying view and extends, starts or restarts the
// streak at the view's time. Views stamped in the future are rejected; one
// would otherwise freeze the streak until that date.
func (s *StreakService) RecordView(ctx context.Context, v rank.View, now time.Time) (*streak.Snapshot, error) {
	v.UserID = strings.TrimSpace(v.UserID)
	v.PostID = strings.TrimSpace(v.PostID)
	if v.UserID == "" || v.PostID == "" {
		return nil, errs.Newf(errs.KindBadRequest, "userId and postId are required")
	}
	if v.ViewedAt.IsZero() {
		return nil, errs.Newf(errs.KindBadRequest, "timestamp is required")
	}
	if v.ViewedAt.After(now.Add(maxClockSkew)) {
		return nil, errs.Newf(errs.KindBadRequest, "timestamp %s is in the future", v.ViewedAt.Format(time.RFC3339))
	}

	cal, prefs, err := loadCalendar(ctx, s.users, v.UserID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.views.InsertView(ctx, v)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.log.Debug("duplicate view", "user_id", v.UserID, "post_id", v.PostID)
	}

	st, err := s.apply(ctx, v.UserID, v.ViewedAt, cal, true)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(st, v.ViewedAt, cal, prefs), nil
}

// apply re-evaluates the streak under the row lock and persists the result.
func (s *StreakService) apply(ctx context.Context, userID string, now time.Time, cal streak.Calendar, view bool) (*streak.Streak, error) {
	path := "read"
	if view {
		path = "write"
	}

	var ev streak.Evaluation
	st, err := s.streaks.WithStreakLock(ctx, userID, func(ctx context.Context, cur *streak.Streak, _ streak.ActionLog) (bool, error) {
		ev = streak.Evaluate(*cur, now, cal, view)
		if !ev.Changed() {
			return false, nil
		}
		// The snapshot must land before the row is zeroed; a failed write
		// aborts the reset.
		if ev.Snapshot > 0 {
			taken, err := s.snapshot(ctx, userID, ev.Snapshot, now, cal)
			if err != nil {
				return false, err
			}
			// A reset already snapshotted today is not repeated by a read.
			if !taken && !view {
				ev = streak.Evaluation{Outcome: streak.OutcomeUnchanged, Next: *cur}
				return false, nil
			}
		}
		*cur = ev.Next
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate streak: %w", err)
	}

	telemetry.StreakEvaluations.WithLabelValues(path, string(ev.Outcome)).Inc()
	if ev.Snapshot > 0 {
		telemetry.StreakResets.Inc()
		s.log.Info("streak reset",
			"user_id", userID,
			"previous", ev.Snapshot,
			"outcome", ev.Outcome,
		)
	}
	return st, nil
}

// snapshot offers length for recovery and reports whether it was written. An
// entry already taken on or after today's local boundary is kept as is.
func (s *StreakService) snapshot(ctx context.Context, userID string, length int, now time.Time, cal streak.Calendar) (bool, error) {
	existing, err := s.cache.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	today := timeboundary.StartOfDay(now, cal.Location)
	if existing != nil && !existing.SnapshotAt.Before(today) {
		s.log.Debug("recoverable streak already captured today", "user_id", userID, "length", existing.Length)
		return false, nil
	}
	if err := s.cache.Put(ctx, userID, length, now); err != nil {
		return false, err
	}
	return true, nil
}
