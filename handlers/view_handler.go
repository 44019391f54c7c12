package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/middleware"
	"readStreakAPI/services"
)

// ViewHandler receives view events from the content service.
type ViewHandler struct {
	streakService *services.StreakService
	log           *logger.Logger
	now           func() time.Time
}

func NewViewHandler(streakService *services.StreakService, log *logger.Logger) *ViewHandler {
	return &ViewHandler{
		streakService: streakService,
		log:           log.With("handler", "ViewHandler"),
		now:           time.Now,
	}
}

func (h *ViewHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	service, ok := middleware.GetService(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Service not authenticated")
		return
	}

	var view rank.View
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&view); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	now := h.now()
	if view.ViewedAt.IsZero() {
		view.ViewedAt = now
	}

	snapshot, err := h.streakService.RecordView(ctx, view, now)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	h.log.Debug("view recorded", "service", service, "user_id", view.UserID, "post_id", view.PostID)

	respondWithJSON(w, http.StatusOK, snapshot)
}
