package rank

import (
	"time"
)

// View is one "user viewed a post" event from the content-view subsystem.
type View struct {
	UserID   string    `json:"userId" db:"user_id"`
	PostID   string    `json:"postId" db:"post_id"`
	Tags     []string  `json:"tags" db:"tags"`
	ViewedAt time.Time `json:"timestamp" db:"viewed_at"`
}

type ReadingRank struct {
	RankThisWeek     int        `json:"rankThisWeek"`
	RankLastWeek     int        `json:"rankLastWeek"`
	CurrentRank      int        `json:"currentRank"`
	ProgressThisWeek int        `json:"progressThisWeek"`
	ReadToday        bool       `json:"readToday"`
	LastReadTime     *time.Time `json:"lastReadTime"`
}

type TagReadingDays struct {
	Tag         string  `json:"tag"`
	ReadingDays int     `json:"readingDays"`
	Percentage  float64 `json:"percentage"`
}

type HistoryDay struct {
	Date  time.Time `json:"date"`
	Reads int       `json:"reads"`
}

type TagsResponse struct {
	After            time.Time         `json:"after"`
	Before           time.Time         `json:"before"`
	TotalReadingDays int               `json:"totalReadingDays"`
	Tags             []*TagReadingDays `json:"tags"`
}

type HistoryResponse struct {
	After  time.Time     `json:"after"`
	Before time.Time     `json:"before"`
	Days   []*HistoryDay `json:"days"`
}
