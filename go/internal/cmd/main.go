package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable is required")
	}
	authenticator := auth.NewJWTAuthenticator(secret, getEnv("JWT_ISSUER", ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var database *Database
	if getEnvAsBool("DB_ENABLED", false) {
		dbCfg := config.databaseConfig()
		connectCtx, connectCancel := context.WithTimeout(ctx, dbCfg.ConnectTimeout)
		database, err = setupDatabase(connectCtx, dbCfg)
		connectCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close()
	}

	services, err := setupServices(ctx, config, database, authenticator)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	if err := services.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start services")
	}

	server := setupServer(services, getEnv("PORT", "8080"))

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("broker", getEnv("BROKER", "none")).
			Bool("database", database != nil).
			Msg("match gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second))
	defer shutdownCancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; Close handles them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	services.Close()
	cancel()

	log.Info().Msg("match gateway shutdown complete")
}
