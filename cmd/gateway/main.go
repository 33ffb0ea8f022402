package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/modelrelay/gateway/internal/gateway/cache"
	"github.com/modelrelay/gateway/internal/gateway/catalog"
	"github.com/modelrelay/gateway/internal/gateway/handlers"
	"github.com/modelrelay/gateway/internal/gateway/ledger"
	"github.com/modelrelay/gateway/internal/gateway/orchestrator"
	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/gateway/ratelimit"
	"github.com/modelrelay/gateway/internal/gateway/usage"
	"github.com/modelrelay/gateway/internal/shared/config"
	"github.com/modelrelay/gateway/internal/shared/database"
	"github.com/modelrelay/gateway/internal/shared/logging"
	"github.com/modelrelay/gateway/internal/shared/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(cfg.LogLevel)
	logging.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting llm gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rateWindow := time.Duration(cfg.RateLimitWindowSec) * time.Second

	// Shared stores. Without Redis or Postgres the gateway falls back to
	// in-process implementations; fine for development, not for a fleet.
	var limiter ratelimit.Limiter
	var responseCache cache.Cache
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitPerWindow, rateWindow)
		responseCache = cache.NewRedisCache(redisClient)
		logging.Info().Msg("connected to redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerWindow, rateWindow)
		responseCache = cache.NewMemoryCache()
		logging.Warn().Msg("REDIS_URL not set, using in-process rate limiter and cache")
	}

	var creditLedger ledger.Ledger
	var recorder usage.Recorder
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			logging.Fatal().Err(err).Msg("failed to ensure database schema")
		}
		creditLedger = ledger.NewPostgresLedger(db)
		recorder = usage.NewPostgresRecorder(db)
		logging.Info().Msg("connected to postgres")
	} else {
		creditLedger = ledger.NewMemoryLedger()
		recorder = usage.NewMemoryRecorder()
		logging.Warn().Msg("DATABASE_URL not set, using in-process ledger and usage recorder")
	}

	registry := providers.NewRegistry(cfg)
	logging.Info().Interface("providers", registry.Configured()).Msg("initialized provider adapters")

	orch := orchestrator.New(
		catalog.Default(),
		limiter,
		creditLedger,
		responseCache,
		registry,
		recorder,
		orchestrator.Config{
			CacheEnabled:    cfg.CacheEnabled,
			CacheDefaultTTL: time.Duration(cfg.CacheDefaultTTLSec) * time.Second,
			CacheMaxTTL:     time.Duration(cfg.CacheMaxTTLSec) * time.Second,
		},
	)

	chatHandler := handlers.NewChatHandler(orch)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.RequestLogger)
	r.Use(handlers.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(handlers.IdentityMiddleware)

		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
		r.Get("/models", chatHandler.HandleModels)
		r.Get("/usage/stats", chatHandler.HandleUsageStats)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute, // streams hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logging.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
}
