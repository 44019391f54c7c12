package handlers

import (
	"context"
	"net/http"
	"time"

	"readStreakAPI/internal/logger"
	"readStreakAPI/middleware"
	"readStreakAPI/services"
)

// defaultWindow is used when a tag or history query gives no "after".
const defaultWindow = 30 * 24 * time.Hour

type RankHandler struct {
	rankService *services.RankService
	log         *logger.Logger
	now         func() time.Time
}

func NewRankHandler(rankService *services.RankService, log *logger.Logger) *RankHandler {
	return &RankHandler{
		rankService: rankService,
		log:         log.With("handler", "RankHandler"),
		now:         time.Now,
	}
}

func (h *RankHandler) GetWeeklyRank(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	readingRank, err := h.rankService.GetWeeklyRank(ctx, clerkID, h.now())
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, readingRank)
}

func (h *RankHandler) GetTagBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	after, before, err := h.window(r)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	tags, err := h.rankService.GetTagBreakdown(ctx, clerkID, after, before, limit)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, tags)
}

func (h *RankHandler) GetReadingHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	after, before, err := h.window(r)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	history, err := h.rankService.GetReadingHistory(ctx, clerkID, after, before)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *RankHandler) window(r *http.Request) (time.Time, time.Time, error) {
	before, err := parseTimeParam(r, "before", h.now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	after, err := parseTimeParam(r, "after", before.Add(-defaultWindow))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return after, before, nil
}
