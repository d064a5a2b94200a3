package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/pitchside/go/internal/match/stats"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services, port string) *http.Server {
	r := mux.NewRouter()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// WebSocket control plane and REST state
	services.Gateway.RegisterRoutes(r)

	// Connect stats procedures
	registerStats(r, services)

	setupHealthCheck(r, services)

	// Wrap with CORS
	handler := c.Handler(r)

	// Setup HTTP/2 server. No write timeout: WebSocket connections are long lived.
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerStats(r *mux.Router, services *Services) {
	var verifier stats.TokenVerifier
	if getEnvAsBool("STATS_REQUIRE_AUTH", true) {
		verifier = services.Auth
	}
	path, handler := stats.NewHandler(services.Stats, verifier)
	r.PathPrefix(path).Handler(handler)
}

func setupHealthCheck(r *mux.Router, services *Services) {
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	r.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]any{
			"service":     "pitchside-match-gateway",
			"connections": services.Gateway.GetStats(),
			"matches":     len(services.Store.MatchIDs()),
			"running":     services.Keeper.Running(),
			"archiving":   services.Archive.Pending(),
		}
		if services.Worker != nil {
			info["publisher"] = services.Worker.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	}).Methods(http.MethodGet)
}
