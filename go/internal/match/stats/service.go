// Package stats serves read-only match statistics as Connect unary procedures
// using a JSON codec.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/gateway"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

const ServiceName = "pitchside.match.v1.MatchStatsService"

const (
	GetMatchStateProcedure      = "/" + ServiceName + "/GetMatchState"
	ListActiveMatchesProcedure  = "/" + ServiceName + "/ListActiveMatches"
	ListActiveSessionsProcedure = "/" + ServiceName + "/ListActiveSessions"
	GetRoomStatsProcedure       = "/" + ServiceName + "/GetRoomStats"
)

// Provider is the read side of the match core.
type Provider interface {
	MatchState(matchID string) (*models.MatchState, error)
	ActiveMatches() []gateway.MatchSummary
	ActiveSessions() []session.Session
	RoomStats(matchID string) room.Stats
}

// TokenVerifier checks the bearer token on each call.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type MatchRequest struct {
	MatchID string `json:"matchId"`
}

type Empty struct{}

type MatchStateResponse struct {
	State *models.MatchState `json:"state"`
}

type ActiveMatchesResponse struct {
	Matches []gateway.MatchSummary `json:"matches"`
}

type ActiveSessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

type RoomStatsResponse struct {
	Stats room.Stats `json:"stats"`
}

// Service implements the stats procedures.
type Service struct {
	provider Provider
}

func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

func (s *Service) GetMatchState(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[MatchStateResponse], error) {
	if req.Msg.MatchID == "" {
		return nil, connectError(matcherr.Validation("matchId is required"))
	}
	st, err := s.provider.MatchState(req.Msg.MatchID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&MatchStateResponse{State: st}), nil
}

func (s *Service) ListActiveMatches(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ActiveMatchesResponse], error) {
	return connect.NewResponse(&ActiveMatchesResponse{Matches: s.provider.ActiveMatches()}), nil
}

func (s *Service) ListActiveSessions(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ActiveSessionsResponse], error) {
	return connect.NewResponse(&ActiveSessionsResponse{Sessions: s.provider.ActiveSessions()}), nil
}

func (s *Service) GetRoomStats(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[RoomStatsResponse], error) {
	if req.Msg.MatchID == "" {
		return nil, connectError(matcherr.Validation("matchId is required"))
	}
	return connect.NewResponse(&RoomStatsResponse{Stats: s.provider.RoomStats(req.Msg.MatchID)}), nil
}

// NewHandler mounts the service and returns the path prefix to route to it.
// A nil verifier leaves the procedures unauthenticated.
func NewHandler(svc *Service, verifier TokenVerifier, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	if verifier != nil {
		opts = append(opts, connect.WithInterceptors(NewAuthInterceptor(verifier)))
	}

	mux := http.NewServeMux()
	mux.Handle(GetMatchStateProcedure, connect.NewUnaryHandler(GetMatchStateProcedure, svc.GetMatchState, opts...))
	mux.Handle(ListActiveMatchesProcedure, connect.NewUnaryHandler(ListActiveMatchesProcedure, svc.ListActiveMatches, opts...))
	mux.Handle(ListActiveSessionsProcedure, connect.NewUnaryHandler(ListActiveSessionsProcedure, svc.ListActiveSessions, opts...))
	mux.Handle(GetRoomStatsProcedure, connect.NewUnaryHandler(GetRoomStatsProcedure, svc.GetRoomStats, opts...))
	return "/" + ServiceName + "/", mux
}

// NewAuthInterceptor rejects calls without a valid bearer token.
func NewAuthInterceptor(verifier TokenVerifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}
			token := strings.TrimPrefix(req.Header().Get("Authorization"), "Bearer ")
			if token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing token"))
			}
			if _, err := verifier.Verify(token); err != nil {
				log.Warn().
					Err(err).
					Str("procedure", req.Spec().Procedure).
					Msg("stats call rejected")
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(ctx, req)
		}
	}
}

// Codec is a plain encoding/json codec registered under the "json" name, so
// the procedures work on ordinary Go structs.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func connectError(err error) error {
	e := matcherr.As(err)
	var code connect.Code
	switch e.Kind {
	case matcherr.KindValidation:
		code = connect.CodeInvalidArgument
	case matcherr.KindNotFound:
		code = connect.CodeNotFound
	case matcherr.KindAuthorization:
		code = connect.CodePermissionDenied
	case matcherr.KindStateConflict:
		code = connect.CodeFailedPrecondition
	case matcherr.KindTransport:
		code = connect.CodeUnavailable
	default:
		log.Error().Err(err).Msg("stats call failed")
		code = connect.CodeInternal
	}
	return connect.NewError(code, e)
}
