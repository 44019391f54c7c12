package handlers

import (
	"context"
	"net/http"
	"time"

	"readStreakAPI/internal/logger"
	"readStreakAPI/middleware"
	"readStreakAPI/services"
)

type StreakHandler struct {
	streakService   *services.StreakService
	recoveryService *services.RecoveryService
	log             *logger.Logger
	now             func() time.Time
}

func NewStreakHandler(streakService *services.StreakService, recoveryService *services.RecoveryService, log *logger.Logger) *StreakHandler {
	return &StreakHandler{
		streakService:   streakService,
		recoveryService: recoveryService,
		log:             log.With("handler", "StreakHandler"),
		now:             time.Now,
	}
}

func (h *StreakHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	snapshot, err := h.streakService.GetStreak(ctx, clerkID, h.now())
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *StreakHandler) GetRecoveryQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	quote, err := h.recoveryService.Quote(ctx, clerkID, h.now())
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, quote)
}

func (h *StreakHandler) RecoverStreak(w http.ResponseWriter, r *http.Request) {
	// Covers ledger retries.
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	result, err := h.recoveryService.Recover(ctx, clerkID, h.now())
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *StreakHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	balance, err := h.recoveryService.Balance(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}
