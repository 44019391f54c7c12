package services

import (
	"context"
	"time"

	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/timeboundary"
)

// maxWindow bounds tag and history queries.
const maxWindow = 366 * 24 * time.Hour

type RankService struct {
	users UserStore
	views ViewStore
	log   *logger.Logger
}

func NewRankService(users UserStore, views ViewStore, log *logger.Logger) *RankService {
	return &RankService{
		users: users,
		views: views,
		log:   log.With("service", "RankService"),
	}
}

// GetWeeklyRank counts distinct reading days this week and last week, in the
// user's timezone and week layout.
func (s *RankService) GetWeeklyRank(ctx context.Context, userID string, now time.Time) (*rank.ReadingRank, error) {
	cal, _, err := loadCalendar(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}

	thisWeek := timeboundary.StartOfWeek(now, cal.Location, cal.WeekStart)
	from := timeboundary.AddDays(thisWeek, -7, cal.Location)
	to := timeboundary.AddDays(timeboundary.StartOfDay(now, cal.Location), 1, cal.Location)

	views, err := s.views.ViewsBetween(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return rank.ComputeRank(views, now, cal.Location, cal.WeekStart), nil
}

func (s *RankService) GetTagBreakdown(ctx context.Context, userID string, after, before time.Time, limit int) (*rank.TagsResponse, error) {
	if err := validateWindow(after, before); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errs.Newf(errs.KindBadRequest, "limit must not be negative")
	}

	cal, _, err := loadCalendar(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.views.ViewsBetween(ctx, userID, after, before)
	if err != nil {
		return nil, err
	}

	total, tags := rank.ComputeTags(views, cal.Location, limit)
	return &rank.TagsResponse{
		After:            after,
		Before:           before,
		TotalReadingDays: total,
		Tags:             tags,
	}, nil
}

func (s *RankService) GetReadingHistory(ctx context.Context, userID string, after, before time.Time) (*rank.HistoryResponse, error) {
	if err := validateWindow(after, before); err != nil {
		return nil, err
	}

	cal, _, err := loadCalendar(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.views.ViewsBetween(ctx, userID, after, before)
	if err != nil {
		return nil, err
	}

	return &rank.HistoryResponse{
		After:  after,
		Before: before,
		Days:   rank.ComputeHistory(views, cal.Location),
	}, nil
}

func validateWindow(after, before time.Time) error {
	if !after.Before(before) {
		return errs.Newf(errs.KindBadRequest, "after must be earlier than before")
	}
	if before.Sub(after) > maxWindow {
		return errs.Newf(errs.KindBadRequest, "window must not exceed 366 days")
	}
	return nil
}
