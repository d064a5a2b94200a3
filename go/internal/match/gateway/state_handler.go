package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/rs/zerolog/log"
)

// StateHandler handles HTTP requests for match state
type StateHandler struct {
	stateProvider StateProvider
}

func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetMatchState handles GET /api/matches/{matchId}/state
func (h *StateHandler) HandleGetMatchState(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	st, err := h.stateProvider.MatchState(matchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetActiveMatches handles GET /api/matches/active
func (h *StateHandler) HandleGetActiveMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateProvider.ActiveMatches())
}

// HandleGetSessionStatus handles GET /api/matches/{matchId}/session
func (h *StateHandler) HandleGetSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateProvider.SessionStatus(mux.Vars(r)["matchId"]))
}

// HandleGetRoomStats handles GET /api/matches/{matchId}/room
func (h *StateHandler) HandleGetRoomStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateProvider.RoomStats(mux.Vars(r)["matchId"]))
}

// HandleGetActiveSessions handles GET /api/sessions/active
func (h *StateHandler) HandleGetActiveSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateProvider.ActiveSessions())
}

func (h *StateHandler) RegisterStateRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matches/active", h.HandleGetActiveMatches).Methods(http.MethodGet)
	api.HandleFunc("/matches/{matchId}/state", h.HandleGetMatchState).Methods(http.MethodGet)
	api.HandleFunc("/matches/{matchId}/session", h.HandleGetSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/matches/{matchId}/room", h.HandleGetRoomStats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/active", h.HandleGetActiveSessions).Methods(http.MethodGet)
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind matcherr.Kind) int {
	switch kind {
	case matcherr.KindValidation:
		return http.StatusBadRequest
	case matcherr.KindAuthorization:
		return http.StatusForbidden
	case matcherr.KindStateConflict:
		return http.StatusConflict
	case matcherr.KindNotFound:
		return http.StatusNotFound
	case matcherr.KindTransport:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := matcherr.As(err)
	status := StatusFor(e.Kind)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("state request failed")
	}
	writeJSON(w, status, ErrorReply{Kind: e.Kind, Message: e.Message, Fields: e.Fields})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
