package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/rs/zerolog/log"
)

// Authenticator establishes the identity behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// WebSocketHandler handles WebSocket upgrade requests for match connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	authenticator     Authenticator
}

func NewWebSocketHandler(cm *ConnectionManager, authenticator Authenticator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		authenticator:     authenticator,
	}
}

// HandleMatchConnection authenticates the request and upgrades it. Rooms are
// joined afterwards with join-match control messages.
func (h *WebSocketHandler) HandleMatchConnection(w http.ResponseWriter, r *http.Request) {
	id, err := h.authenticator.Authenticate(r)
	if err != nil {
		log.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("WebSocket connection rejected")
		e := matcherr.As(err)
		writeJSON(w, http.StatusUnauthorized, ErrorReply{Kind: e.Kind, Message: e.Message})
		return
	}

	// Upgrade writes its own error response.
	if _, err := h.connectionManager.UpgradeConnection(w, r, id); err != nil {
		log.Error().
			Err(err).
			Str("user_id", id.UserID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

func (h *WebSocketHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/match", h.HandleMatchConnection)
	r.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
}
