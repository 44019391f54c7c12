package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"readStreakAPI/handlers"
	"readStreakAPI/internal/logger"
	"readStreakAPI/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type routerDeps struct {
	log         *logger.Logger
	db          pinger
	gatherer    prometheus.Gatherer
	rateLimiter *middleware.RateLimiter

	userAuth    func(http.Handler) http.Handler
	serviceAuth func(http.Handler) http.Handler
	metricsAuth func(http.Handler) http.Handler

	streakHandler *handlers.StreakHandler
	rankHandler   *handlers.RankHandler
	viewHandler   *handlers.ViewHandler
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()

	r.Use(d.rateLimiter.Middleware)
	r.Use(middleware.MonitorMiddleware(d.log))

	r.Handle("/metrics", d.metricsAuth(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := d.db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "read-streak-api"}`))
	}).Methods("GET")

	// Internal ingestion, service token only.
	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(d.serviceAuth)
	internal.HandleFunc("/views", d.viewHandler.RecordView).Methods("POST")

	// User routes, Clerk session required.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(d.userAuth)

	api.HandleFunc("/streak", d.streakHandler.GetStreak).Methods("GET")
	api.HandleFunc("/streak/recover", d.streakHandler.GetRecoveryQuote).Methods("GET")
	api.HandleFunc("/streak/recover", d.streakHandler.RecoverStreak).Methods("POST")
	api.HandleFunc("/streak/rank", d.rankHandler.GetWeeklyRank).Methods("GET")
	api.HandleFunc("/streak/tags", d.rankHandler.GetTagBreakdown).Methods("GET")
	api.HandleFunc("/streak/history", d.rankHandler.GetReadingHistory).Methods("GET")
	api.HandleFunc("/cores/balance", d.streakHandler.GetBalance).Methods("GET")

	return r
}
