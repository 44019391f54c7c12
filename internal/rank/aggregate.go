// Package rank derives weekly reading ranks and tag breakdowns straight from
// the raw view log, independently of the stored streak.
package rank

import (
	"sort"
	"strings"
	"time"

	"readStreakAPI/internal/timeboundary"
)

const dayLayout = "2006-01-02"

// ComputeRank counts distinct local reading days in the week containing now
// and in the seven days before it.
func ComputeRank(views []View, now time.Time, loc *time.Location, weekStart timeboundary.WeekStart) *ReadingRank {
	thisWeek := timeboundary.StartOfWeek(now, loc, weekStart)
	lastWeek := timeboundary.AddDays(thisWeek, -7, loc)
	today := timeboundary.StartOfDay(now, loc)

	thisWeekDays := make(map[string]struct{})
	lastWeekDays := make(map[string]struct{})
	result := &ReadingRank{}

	for _, v := range views {
		if v.ViewedAt.After(now) {
			continue
		}
		day := timeboundary.StartOfDay(v.ViewedAt, loc)
		key := day.Format(dayLayout)

		switch {
		case !day.Before(thisWeek):
			thisWeekDays[key] = struct{}{}
		case !day.Before(lastWeek):
			lastWeekDays[key] = struct{}{}
		}

		if day.Equal(today) {
			result.ReadToday = true
		}
		if result.LastReadTime == nil || v.ViewedAt.After(*result.LastReadTime) {
			at := v.ViewedAt
			result.LastReadTime = &at
		}
	}

	result.RankThisWeek = len(thisWeekDays)
	result.RankLastWeek = len(lastWeekDays)
	result.CurrentRank = max(result.RankLastWeek, result.RankThisWeek)
	result.ProgressThisWeek = result.RankThisWeek
	return result
}

// ComputeTags counts, for every tag, the local days on which at least one
// viewed post carried it. Percentages are fractions of all reading days.
func ComputeTags(views []View, loc *time.Location, limit int) (int, []*TagReadingDays) {
	tagsByDay := make(map[string]map[string]struct{})
	for _, v := range views {
		key := timeboundary.StartOfDay(v.ViewedAt, loc).Format(dayLayout)
		tags, ok := tagsByDay[key]
		if !ok {
			tags = make(map[string]struct{})
			tagsByDay[key] = tags
		}
		for _, tag := range v.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			tags[tag] = struct{}{}
		}
	}

	totalDays := len(tagsByDay)
	counts := make(map[string]int)
	for _, tags := range tagsByDay {
		for tag := range tags {
			counts[tag]++
		}
	}

	result := make([]*TagReadingDays, 0, len(counts))
	for tag, days := range counts {
		result = append(result, &TagReadingDays{
			Tag:         tag,
			ReadingDays: days,
			Percentage:  float64(days) / float64(totalDays),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ReadingDays != result[j].ReadingDays {
			return result[i].ReadingDays > result[j].ReadingDays
		}
		return result[i].Tag < result[j].Tag
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return totalDays, result
}

// ComputeHistory counts views per local day, oldest first.
func ComputeHistory(views []View, loc *time.Location) []*HistoryDay {
	byDay := make(map[string]*HistoryDay)
	for _, v := range views {
		day := timeboundary.StartOfDay(v.ViewedAt, loc)
		key := day.Format(dayLayout)
		if h, ok := byDay[key]; ok {
			h.Reads++
			continue
		}
		byDay[key] = &HistoryDay{Date: day, Reads: 1}
	}

	days := make([]*HistoryDay, 0, len(byDay))
	for _, h := range byDay {
		days = append(days, h)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}
