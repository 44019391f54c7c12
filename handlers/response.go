package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/logger"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps error kinds to status codes. Anything without
// a kind is a 500 and its detail stays in the log.
func respondWithServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	kind, ok := errs.KindOf(err)
	if !ok {
		log.Error("request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case errs.KindBadRequest, errs.KindConfig:
		status = http.StatusBadRequest
	case errs.KindNotFound, errs.KindNoStreakToRecover:
		status = http.StatusNotFound
	case errs.KindInsufficientBalance:
		status = http.StatusPaymentRequired
	case errs.KindAccessDenied:
		status = http.StatusForbidden
	case errs.KindLedgerUnavailable:
		status = http.StatusServiceUnavailable
	case errs.KindConcurrencyConflict:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", "code", kind, "error", err)
	}

	respondWithJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(kind),
	})
}

func parseTimeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Newf(errs.KindBadRequest, "invalid %s: expected RFC3339 timestamp", name)
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Newf(errs.KindBadRequest, "invalid %s: expected integer", name)
	}
	return v, nil
}
