package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/pitchside/go/internal/match/gateway"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// fakeGateway answers a handful of control messages the way the real gateway does.
type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	reject bool
	conns  map[*websocket.Conn]*sync.Mutex
	joins  map[string]int
	tokens []string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		t:     t,
		conns: make(map[*websocket.Conn]*sync.Mutex),
		joins: make(map[string]int),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	reject := g.reject
	g.tokens = append(g.tokens, r.Header.Get("Authorization"))
	g.mu.Unlock()
	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wmu := &sync.Mutex{}
	g.mu.Lock()
	g.conns[ws] = wmu
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.conns, ws)
		g.mu.Unlock()
		ws.Close()
	}()

	for {
		var in gateway.Inbound
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		reply, ok := g.answer(in)
		if !ok {
			continue
		}
		wmu.Lock()
		err := ws.WriteJSON(reply)
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}

func (g *fakeGateway) answer(in gateway.Inbound) (gateway.Reply, bool) {
	switch in.Type {
	case gateway.MsgJoinMatch:
		var req room.JoinRequest
		json.Unmarshal(in.Data, &req)
		if req.MatchID == "missing" {
			return gateway.Reply{
				Type:      gateway.ReplyError,
				RequestID: in.RequestID,
				Error:     &gateway.ErrorReply{Kind: matcherr.KindNotFound, Message: "match not found"},
			}, true
		}
		g.mu.Lock()
		g.joins[req.MatchID]++
		g.mu.Unlock()
		return gateway.Reply{
			Type:      gateway.ReplyMatchState,
			RequestID: in.RequestID,
			Data: gateway.JoinedData{
				State:  &models.MatchState{MatchID: req.MatchID},
				Member: room.Member{MatchID: req.MatchID, Role: req.Role},
			},
		}, true
	case gateway.MsgLeaveMatch:
		return gateway.Reply{Type: gateway.ReplyLeftMatch, RequestID: in.RequestID}, true
	case gateway.MsgMatchStatusChange:
		return gateway.Reply{
			Type:      gateway.ReplyError,
			RequestID: in.RequestID,
			Error:     &gateway.ErrorReply{Kind: matcherr.KindStateConflict, Message: "match is completed"},
		}, true
	case gateway.MsgPing:
		if in.RequestID == "" {
			return gateway.Reply{}, false
		}
		return gateway.Reply{Type: gateway.ReplyPong, RequestID: in.RequestID, Data: gateway.Pong{Timestamp: time.Now()}}, true
	}
	// Anything else is left unanswered.
	return gateway.Reply{}, false
}

func (g *fakeGateway) broadcast(v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ws, wmu := range g.conns {
		wmu.Lock()
		ws.WriteJSON(v)
		wmu.Unlock()
	}
}

func (g *fakeGateway) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ws := range g.conns {
		ws.Close()
	}
}

func (g *fakeGateway) setReject(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reject = v
}

func (g *fakeGateway) joinCount(matchID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.joins[matchID]
}

func (g *fakeGateway) openConns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func testConfig(url string) Config {
	config := DefaultConfig()
	config.URL = url
	config.Token = "secret-token"
	config.InitialBackoff = 10 * time.Millisecond
	config.MaxBackoff = 50 * time.Millisecond
	config.RequestTimeout = time.Second
	return config
}

func watchStates(c *Client) <-chan State {
	ch := make(chan State, 32)
	c.OnStateChange(func(s State) {
		select {
		case ch <- s:
		default:
		}
	})
	return ch
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func connect(t *testing.T, config Config) *Client {
	t.Helper()
	c := New(config, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestConnectSendsBearerToken(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))

	if c.State() != StateOpen {
		t.Fatalf("State() = %s, want open", c.State())
	}
	g.mu.Lock()
	token := g.tokens[0]
	g.mu.Unlock()
	if token != "Bearer secret-token" {
		t.Errorf("Authorization = %q", token)
	}
}

func TestConnectRejected(t *testing.T) {
	g := newFakeGateway(t)
	g.setReject(true)
	c := New(testConfig(g.url()), nil)

	err := c.Connect(context.Background())
	if !errors.Is(err, matcherr.ErrAuthorization) {
		t.Fatalf("Connect() error = %v, want authorization", err)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %s, want closed", c.State())
	}
}

func TestJoinMatch(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))

	joined, err := c.JoinMatch(context.Background(), room.JoinRequest{MatchID: "m1", Role: "spectator"})
	if err != nil {
		t.Fatalf("JoinMatch() error = %v", err)
	}
	if joined.State.MatchID != "m1" {
		t.Errorf("state match = %q", joined.State.MatchID)
	}
	if got := c.Joined(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("Joined() = %v", got)
	}

	if err := c.LeaveMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("LeaveMatch() error = %v", err)
	}
	if got := c.Joined(); len(got) != 0 {
		t.Errorf("Joined() after leave = %v", got)
	}
}

func TestRequestErrorReply(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))

	_, err := c.Request(context.Background(), gateway.MsgMatchStatusChange, gateway.MatchRef{MatchID: "m1"})
	if !errors.Is(err, matcherr.ErrStateConflict) {
		t.Fatalf("error = %v, want state conflict", err)
	}
	if e := matcherr.As(err); e.Message != "match is completed" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestRequestTimeout(t *testing.T) {
	g := newFakeGateway(t)
	config := testConfig(g.url())
	config.RequestTimeout = 50 * time.Millisecond
	c := connect(t, config)

	_, err := c.Request(context.Background(), gateway.MsgGetEventEntryStatus, gateway.MatchRef{MatchID: "m1"})
	if matcherr.KindOf(err) != matcherr.KindTransport {
		t.Fatalf("error = %v, want transport", err)
	}
}

func TestRequestNotConnected(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"), nil)
	if _, err := c.Request(context.Background(), gateway.MsgPing, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("error = %v, want not connected", err)
	}
}

func TestSubscribeReceivesBroadcasts(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))

	sub := c.Subscribe("match-event")
	other := c.Subscribe("notification")

	// A round trip guarantees the server has registered the connection.
	if _, err := c.Request(context.Background(), gateway.MsgPing, nil); err != nil {
		t.Fatalf("ping error = %v", err)
	}
	g.broadcast(map[string]any{"type": "match-event", "matchId": "m1", "seq": 3})

	select {
	case f := <-sub.C:
		if f.MatchID != "m1" || f.Seq != 3 {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
	select {
	case f := <-other.C:
		t.Errorf("unexpected frame on notification subscription: %+v", f)
	default:
	}

	sub.Unsubscribe()
	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Unsubscribe")
	}
	sub.Unsubscribe()
}

func TestReconnectRejoinsMatches(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))
	states := watchStates(c)
	sub := c.Subscribe(gateway.ReplyMatchState)

	if _, err := c.JoinMatch(context.Background(), room.JoinRequest{MatchID: "m1", Role: "coach", TeamID: "home"}); err != nil {
		t.Fatalf("JoinMatch() error = %v", err)
	}

	g.dropAll()
	waitState(t, states, StateConnecting)
	waitState(t, states, StateOpen)

	select {
	case f := <-sub.C:
		if f.Type != gateway.ReplyMatchState {
			t.Errorf("type = %q", f.Type)
		}
		var joined gateway.JoinedData
		if err := json.Unmarshal(f.Data, &joined); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if joined.State.MatchID != "m1" || joined.Member.Role != "coach" {
			t.Errorf("rejoined = %+v", joined)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state after reconnect")
	}
	if n := g.joinCount("m1"); n != 2 {
		t.Errorf("joins = %d, want 2", n)
	}
	if c.Attempts() != 0 {
		t.Errorf("Attempts() = %d after reconnect", c.Attempts())
	}
}

func TestPendingRequestFailsOnDrop(t *testing.T) {
	g := newFakeGateway(t)
	config := testConfig(g.url())
	config.RequestTimeout = 5 * time.Second
	c := connect(t, config)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), gateway.MsgSubmitEventEntry, gateway.SessionRef{SessionID: "s1"})
		errc <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for g.openConns() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Wait for the request to be registered before dropping.
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.pending)
		c.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.dropAll()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("error = %v, want connection lost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not fail after drop")
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	g := newFakeGateway(t)
	config := testConfig(g.url())
	config.MaxReconnectAttempts = 2
	c := connect(t, config)
	states := watchStates(c)

	if _, err := c.Request(context.Background(), gateway.MsgPing, nil); err != nil {
		t.Fatalf("ping error = %v", err)
	}
	g.setReject(true)
	g.dropAll()

	waitState(t, states, StateGaveUp)
	if c.State() != StateGaveUp {
		t.Errorf("State() = %s", c.State())
	}
	g.mu.Lock()
	dials := len(g.tokens)
	g.mu.Unlock()
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	g := newFakeGateway(t)
	c := connect(t, testConfig(g.url()))
	states := watchStates(c)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitState(t, states, StateClosed)

	time.Sleep(100 * time.Millisecond)
	if c.State() != StateClosed {
		t.Errorf("State() = %s, want closed", c.State())
	}
	g.mu.Lock()
	dials := len(g.tokens)
	g.mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestBackoff(t *testing.T) {
	config := Config{InitialBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second, BackoffFactor: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(config, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
