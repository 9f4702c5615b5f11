package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devshare/control-server-go/internal/config"
	"github.com/devshare/control-server-go/internal/database"
	"github.com/devshare/control-server-go/internal/events"
	"github.com/devshare/control-server-go/internal/handler"
	"github.com/devshare/control-server-go/internal/jobs"
	"github.com/devshare/control-server-go/internal/livestate"
	"github.com/devshare/control-server-go/internal/middleware"
	"github.com/devshare/control-server-go/internal/redis"
	"github.com/devshare/control-server-go/internal/repository"
	"github.com/devshare/control-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	bus, err := events.Connect(cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer bus.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := bus.EnsureStreams(streamCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure event streams")
	}
	streamCancel()
	log.Info().Msg("event streams ready")

	deviceRepo := repository.NewDeviceRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db)
	requirementRepo := repository.NewRequirementRepository(db.DB)

	deviceStates := livestate.NewDeviceStateStore(redisClient)
	sessionStates := livestate.NewSessionStateStore(redisClient)

	deviceService := service.NewDeviceService(deviceRepo, deviceStates, bus)
	sessionService := service.NewSessionService(sessionRepo, deviceService, sessionStates, bus)
	requirementService := service.NewRequirementService(requirementRepo, deviceService, bus)

	bridgeCtx, bridgeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	bridge, err := events.StartRequirementBridge(bridgeCtx, bus.JetStream(), requirementService)
	bridgeCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start requirement bridge")
	}
	defer bridge.Stop()

	authMiddleware := middleware.NewAuthMiddleware()
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)

	deviceHandler := handler.NewDeviceHandler(deviceService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	requirementHandler := handler.NewRequirementHandler(requirementService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/devices", deviceHandler.Routes())
		r.Mount("/sessions", sessionHandler.Routes())
		r.Mount("/requirements", requirementHandler.Routes())
	})

	reconcileJob := jobs.NewReconcileJob(
		deviceStates, sessionStates, sessionRepo, deviceService, cfg.ReconcileInterval(),
	)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
