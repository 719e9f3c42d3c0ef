package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/config"
	"github.com/mcdev12/focusroom/go/internal/logging"
)

func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg := config.NewRelayFromEnv()
	logging.Init(cfg.Env, cfg.LogLevel)
	if envErr != nil {
		log.Warn().Err(envErr).Msg("could not load .env file")
	}

	relayServer, err := setupRelay(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay")
	}

	server := relayServer.HTTPServer()

	log.Info().
		Str("addr", server.Addr).
		Str("nats_url", cfg.NATSURL).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("starting focusroom relay")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by Shutdown
	if err := relayServer.Close(); err != nil {
		log.Error().Err(err).Msg("relay close failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("focusroom relay shutdown complete")
}
