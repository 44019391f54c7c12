package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"readStreakAPI/handlers"
	"readStreakAPI/internal/cache"
	"readStreakAPI/internal/config"
	"readStreakAPI/internal/ledger"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/store"
	"readStreakAPI/internal/telemetry"
	"readStreakAPI/middleware"
	"readStreakAPI/services"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.InitTracing(ctx, log, telemetry.TracingConfig{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: "read-streak-api",
		Version:     rootCmd.Version,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	clerk.SetKey(cfg.ClerkSecretKey)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := store.NewPool(connectCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection pool")
		pool.Close()
	}()
	log.Info("connected to postgres")

	rdb, err := cache.NewClient(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	middleware.InitPrometheus(registry)
	telemetry.Register(registry)

	db := store.New(pool, log)
	recoverable := cache.NewRecoverableStreaks(rdb, cfg.RecoveryWindow)
	ledgerClient := ledger.NewClient(cfg.LedgerURL, cfg.LedgerToken, ledger.Options{
		Timeout:     cfg.LedgerTimeout,
		MaxAttempts: cfg.LedgerAttempts,
	}, log)

	streakService := services.NewStreakService(db, db, db, recoverable, log)
	recoveryService := services.NewRecoveryService(db, db, recoverable, ledgerClient, services.RecoveryOptions{
		RegularCost: cfg.RecoveryRegularCost,
		Window:      cfg.RecoveryWindow,
	}, log)
	rankService := services.NewRankService(db, db, log)

	rateLimiter := middleware.NewRateLimiter(5, 30)
	go rateLimiter.Cleanup(ctx)

	r := newRouter(routerDeps{
		log:           log,
		db:            db,
		gatherer:      registry,
		rateLimiter:   rateLimiter,
		userAuth:      middleware.ClerkAuth(log),
		serviceAuth:   middleware.ServiceAuth(cfg.IngestSigningKey, middleware.ScopeViewsWrite, log),
		metricsAuth:   middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass),
		streakHandler: handlers.NewStreakHandler(streakService, recoveryService, log),
		rankHandler:   handlers.NewRankHandler(rankService, log),
		viewHandler:   handlers.NewViewHandler(streakService, log),
	})

	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server shutdown complete")
	return nil
}
