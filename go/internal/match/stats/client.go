package stats

import (
	"context"

	"connectrpc.com/connect"
)

// Client calls a remote stats service.
type Client struct {
	getMatchState      *connect.Client[MatchRequest, MatchStateResponse]
	listActiveMatches  *connect.Client[Empty, ActiveMatchesResponse]
	listActiveSessions *connect.Client[Empty, ActiveSessionsResponse]
	getRoomStats       *connect.Client[MatchRequest, RoomStatsResponse]
	token              string
}

func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		getMatchState:      connect.NewClient[MatchRequest, MatchStateResponse](httpClient, baseURL+GetMatchStateProcedure, opts...),
		listActiveMatches:  connect.NewClient[Empty, ActiveMatchesResponse](httpClient, baseURL+ListActiveMatchesProcedure, opts...),
		listActiveSessions: connect.NewClient[Empty, ActiveSessionsResponse](httpClient, baseURL+ListActiveSessionsProcedure, opts...),
		getRoomStats:       connect.NewClient[MatchRequest, RoomStatsResponse](httpClient, baseURL+GetRoomStatsProcedure, opts...),
		token:              token,
	}
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	return req
}

func (c *Client) GetMatchState(ctx context.Context, matchID string) (*MatchStateResponse, error) {
	resp, err := c.getMatchState.CallUnary(ctx, withToken(&MatchRequest{MatchID: matchID}, c.token))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ListActiveMatches(ctx context.Context) (*ActiveMatchesResponse, error) {
	resp, err := c.listActiveMatches.CallUnary(ctx, withToken(&Empty{}, c.token))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ListActiveSessions(ctx context.Context) (*ActiveSessionsResponse, error) {
	resp, err := c.listActiveSessions.CallUnary(ctx, withToken(&Empty{}, c.token))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) GetRoomStats(ctx context.Context, matchID string) (*RoomStatsResponse, error) {
	resp, err := c.getRoomStats.CallUnary(ctx, withToken(&MatchRequest{MatchID: matchID}, c.token))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
