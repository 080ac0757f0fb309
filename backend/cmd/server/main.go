package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/docease/telecare/backend/internal/chat"
	"github.com/docease/telecare/backend/internal/config"
	"github.com/docease/telecare/backend/internal/server"
	"github.com/docease/telecare/backend/internal/signaling"
	"github.com/docease/telecare/backend/internal/store"
	"github.com/docease/telecare/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	policy, err := signaling.ParsePolicy(cfg.RoomFullPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ROOM_FULL_POLICY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(logger.WithContext(ctx), 15*time.Second)
	messages, err := store.Open(openCtx, cfg.StoreDriver, cfg.StoreDSN())
	cancelOpen()
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("message store unavailable")
	}
	defer messages.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("message store ready")

	svc := chat.NewService(messages, logger)

	hub := signaling.NewHub(signaling.NewRegistry(policy), logger, cfg.OfferGracePeriod)
	hub.SetRoster(svc)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	router := server.NewRouter(logger, hub, svc, cfg.AllowedOrigins)

	// No WriteTimeout: websocket connections outlive any single write window.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("version", version.Version).
			Str("room_full_policy", string(policy)).
			Dur("offer_grace", cfg.OfferGracePeriod).
			Msg("starting telecare server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Closing every handle's send channel makes the write pumps send a
	// close frame, so clients see a clean disconnect.
	stopHub()
	<-hubDone

	logger.Info().Msg("server stopped")
}
