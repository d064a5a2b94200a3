package gateway

import (
	"context"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/entry"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/rs/zerolog/log"
)

// Core bundles the match components the gateway drives.
type Core struct {
	Store     *state.Store
	Rooms     *room.Coordinator
	Sessions  *session.Manager
	Keeper    *clock.Timekeeper
	Submitter *entry.Submitter
	Archive   ArchiveScheduler
}

// Service is the match gateway: WebSocket control plane plus the REST state surface
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	stateProvider     *LiveStateProvider
	handler           *Handler
	config            Config
}

type Config struct {
	ConnectionConfig ConnectionConfig
	HandlerConfig    HandlerConfig
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		HandlerConfig:    DefaultHandlerConfig(),
		ShutdownTimeout:  5 * time.Second,
	}
}

func NewService(config Config, core Core, authenticator Authenticator, clk clockwork.Clock) *Service {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	handler := NewHandler(core, clk, config.HandlerConfig)
	connectionManager := NewConnectionManager(config.ConnectionConfig, handler)
	stateProvider := NewStateProvider(core.Store, core.Sessions, core.Rooms)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, authenticator),
		stateHandler:      NewStateHandler(stateProvider),
		stateProvider:     stateProvider,
		handler:           handler,
		config:            config,
	}
}

// Stop closes every connection, waiting at most ShutdownTimeout.
func (s *Service) Stop() error {
	log.Info().Msg("match gateway service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.connectionManager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to close connections")
		return err
	}
	log.Info().Msg("match gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state routes
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.wsHandler.RegisterRoutes(r)
	s.stateHandler.RegisterStateRoutes(r)
	log.Info().Msg("match gateway routes registered")
}

func (s *Service) StateProvider() StateProvider {
	return s.stateProvider
}

func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
