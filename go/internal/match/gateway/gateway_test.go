package gateway

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

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/entry"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/models"
)

const testSecret = "test-secret"

type fixtures struct{}

func (fixtures) GetFixture(_ context.Context, matchID string) (*models.Fixture, error) {
	if matchID == "unknown" {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}
	return &models.Fixture{MatchID: matchID, HomeTeamID: "home", AwayTeamID: "away"}, nil
}

type archiveRecorder struct {
	mu        sync.Mutex
	scheduled []string
}

func (a *archiveRecorder) Schedule(matchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = append(a.scheduled, matchID)
}

func (a *archiveRecorder) matches() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.scheduled...)
}

type testServer struct {
	*httptest.Server
	service  *Service
	sessions *session.Manager
	archive  *archiveRecorder
	auth     *auth.JWTAuthenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fc := clockwork.NewFakeClock()
	store := state.NewStore(fixtures{}, fc)
	sessions := session.NewManager(fc, session.DefaultConfig())
	rooms := room.NewCoordinator(store, sessions, room.ClaimsPermissionChecker{}, fc)
	store.SetBroadcaster(rooms)
	archive := &archiveRecorder{}

	core := Core{
		Store:     store,
		Rooms:     rooms,
		Sessions:  sessions,
		Keeper:    clock.NewTimekeeper(store, fc, clock.DefaultConfig()),
		Submitter: entry.NewSubmitter(store, rooms, sessions, nil, entry.DefaultConfig()),
		Archive:   archive,
	}
	authenticator := auth.NewJWTAuthenticator(testSecret, "")
	svc := NewService(DefaultConfig(), core, authenticator, fc)

	r := mux.NewRouter()
	svc.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		svc.Stop()
		srv.Close()
	})
	return &testServer{Server: srv, service: svc, sessions: sessions, archive: archive, auth: authenticator}
}

// frame is the union of reply and broadcast frames.
type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	MatchID   string          `json:"matchId"`
	Seq       uint64          `json:"seq"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorReply     `json:"error"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T, id auth.Identity) *client {
	t.Helper()
	token, err := s.auth.Issue(id, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/match?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msgType, requestID string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := c.conn.WriteJSON(Inbound{Type: msgType, RequestID: requestID, Data: raw}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// await reads frames until one of type msgType arrives and returns it along
// with everything read before it.
func (c *client) await(msgType string) (frame, []frame) {
	c.t.Helper()
	var seen []frame
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v (seen %v)", msgType, err, typesOf(seen))
		}
		if f.Type == msgType {
			return f, seen
		}
		seen = append(seen, f)
	}
}

func typesOf(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

var (
	referee   = auth.Identity{UserID: "ref", Roles: []auth.Role{auth.RoleReferee}}
	spectator = auth.Identity{UserID: "fan"}
	homeCoach = auth.Identity{UserID: "coach", Roles: []auth.Role{auth.RoleCoach}, TeamID: "home"}
)

func (c *client) join(matchID string, role auth.Role) JoinedData {
	c.t.Helper()
	return c.joinWith(room.JoinRequest{MatchID: matchID, Role: role})
}

func (c *client) joinWith(req room.JoinRequest) JoinedData {
	c.t.Helper()
	c.send(MsgJoinMatch, "join-"+req.MatchID, req)
	f, _ := c.await(ReplyMatchState)
	if f.RequestID != "join-"+req.MatchID {
		c.t.Fatalf("join reply has requestId %q", f.RequestID)
	}
	var joined JoinedData
	if err := json.Unmarshal(f.Data, &joined); err != nil {
		c.t.Fatalf("decode join reply: %v", err)
	}
	return joined
}

func TestUpgradeRequiresToken(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/match"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected a rejected handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestJoinReturnsFullState(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)

	joined := ref.join("m1", auth.RoleReferee)
	if joined.State == nil || joined.State.MatchID != "m1" || joined.State.Status != models.MatchStatusScheduled {
		t.Fatalf("unexpected state %+v", joined.State)
	}
	if joined.Member.Role != auth.RoleReferee || !joined.Member.Can(auth.CapTimerControl) {
		t.Fatalf("unexpected member %+v", joined.Member)
	}
	if joined.Session.IsActive {
		t.Fatalf("no session should be active yet")
	}

	fan := s.dial(t, spectator)
	fan.join("m1", "")

	// the referee's own join comes first
	var p events.PresencePayload
	for p.UserID != "fan" {
		presence, _ := ref.await(events.PresenceUpdate)
		json.Unmarshal(presence.Data, &p)
	}
	if !p.Joined || p.Members != 2 {
		t.Fatalf("unexpected presence %+v", p)
	}
}

func TestEventEntryFlow(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	fan := s.dial(t, spectator)
	ref.join("m1", auth.RoleReferee)
	fan.join("m1", "")

	ref.send(MsgStartEventEntry, "s1", MatchRef{MatchID: "m1"})
	started, _ := ref.await(ReplyEventEntryStarted)
	var sess session.Session
	json.Unmarshal(started.Data, &sess)
	if sess.ID == "" || !sess.IsActive {
		t.Fatalf("unexpected session %+v", sess)
	}

	minute := 12
	ref.send(MsgValidateEventEntry, "v1", entry.FormData{MatchID: "m1", EventType: models.EventTypeGoal, Minute: &minute, TeamID: "home"})
	validated, _ := ref.await(ReplyEventEntryValidated)
	var res entry.Result
	json.Unmarshal(validated.Data, &res)
	if res.IsValid {
		t.Fatalf("minute 12 on an unstarted clock should be rejected")
	}

	minute = 2
	ref.send(MsgSubmitEventEntry, "e1", entry.FormData{MatchID: "m1", EventType: models.EventTypeGoal, Minute: &minute, TeamID: "away", CorrelationID: "c1"})
	submitted, _ := ref.await(ReplyEventEntrySubmitted)
	var receipt entry.Receipt
	json.Unmarshal(submitted.Data, &receipt)
	if !receipt.Success || receipt.EventID == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	broadcast, _ := fan.await(events.MatchEvent)
	var payload events.MatchEventPayload
	json.Unmarshal(broadcast.Data, &payload)
	if broadcast.MatchID != "m1" || broadcast.Seq != 1 || payload.Event.ID != receipt.EventID || payload.AwayScore != 1 {
		t.Fatalf("unexpected match-event broadcast seq=%d payload=%+v", broadcast.Seq, payload)
	}

	resp, err := http.Get(s.URL + "/api/matches/m1/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var st models.MatchState
	json.NewDecoder(resp.Body).Decode(&st)
	if st.AwayScore != 1 || len(st.Events) != 1 {
		t.Fatalf("state not updated: away=%d events=%d", st.AwayScore, len(st.Events))
	}
}

func TestSubmitValidationErrorCarriesFields(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	ref.join("m1", auth.RoleReferee)
	ref.send(MsgStartEventEntry, "s1", MatchRef{MatchID: "m1"})
	ref.await(ReplyEventEntryStarted)

	minute := -3
	ref.send(MsgSubmitEventEntry, "e1", entry.FormData{MatchID: "m1", EventType: models.EventTypeGoal, Minute: &minute})
	f, _ := ref.await(ReplyError)
	if f.RequestID != "e1" || f.Error.Kind != matcherr.KindValidation {
		t.Fatalf("unexpected error frame %+v", f)
	}
	if len(f.Error.Fields) < 2 {
		t.Fatalf("expected minute and teamId errors, got %+v", f.Error.Fields)
	}
}

func TestSpectatorCannotControlTimer(t *testing.T) {
	s := newTestServer(t)
	fan := s.dial(t, spectator)
	fan.join("m1", "")

	fan.send(MsgMatchTimerControl, "t1", TimerControlRequest{MatchID: "m1", Action: clock.ActionStart})
	f, _ := fan.await(ReplyError)
	if f.RequestID != "t1" || f.Error.Kind != matcherr.KindAuthorization {
		t.Fatalf("unexpected error frame %+v", f)
	}

	resp, err := http.Get(s.URL + "/api/matches/m1/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var st models.MatchState
	json.NewDecoder(resp.Body).Decode(&st)
	if st.Status != models.MatchStatusScheduled || st.Seq != 0 {
		t.Fatalf("rejected control changed the match: %+v", st)
	}
}

func TestTimerControlBroadcastsUpdate(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	fan := s.dial(t, spectator)
	ref.join("m1", auth.RoleReferee)
	fan.join("m1", "")

	ref.send(MsgMatchTimerControl, "t1", TimerControlRequest{MatchID: "m1", Action: clock.ActionStart})
	ack, _ := ref.await(ReplyTimerControlAck)
	var data AckData
	json.Unmarshal(ack.Data, &data)
	if data.Status != models.MatchStatusInProgress || !data.IsTimerRunning {
		t.Fatalf("unexpected ack %+v", data)
	}

	update, _ := fan.await(events.TimerUpdate)
	if update.Seq != data.Seq {
		t.Fatalf("timer update seq %d, ack seq %d", update.Seq, data.Seq)
	}
}

func TestCompletionSchedulesArchival(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	ref.join("m1", auth.RoleReferee)

	change := func(status models.MatchStatus) AckData {
		ref.send(MsgMatchStatusChange, string(status), StatusChangeRequest{MatchID: "m1", Status: status})
		f, _ := ref.await(ReplyMatchStatusAck)
		var ack AckData
		json.Unmarshal(f.Data, &ack)
		return ack
	}

	change(models.MatchStatusInProgress)
	if got := s.archive.matches(); len(got) != 0 {
		t.Fatalf("archival scheduled for a live match: %v", got)
	}

	ack := change(models.MatchStatusCompleted)
	if ack.Status != models.MatchStatusCompleted || ack.IsTimerRunning {
		t.Fatalf("unexpected ack %+v", ack)
	}
	synced, _ := ref.await(events.MatchState)
	if synced.Seq != ack.Seq {
		t.Fatalf("match-state seq %d, ack seq %d", synced.Seq, ack.Seq)
	}
	if got := s.archive.matches(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected archival of m1, got %v", got)
	}

	ref.send(MsgMatchStatusChange, "again", StatusChangeRequest{MatchID: "m1", Status: models.MatchStatusInProgress})
	f, _ := ref.await(ReplyError)
	if f.Error.Kind != matcherr.KindStateConflict {
		t.Fatalf("completed match should reject changes, got %+v", f.Error)
	}
}

func TestTeamChatReachesTeamAndReferees(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	coach := s.dial(t, homeCoach)
	fan := s.dial(t, spectator)
	ref.join("m1", auth.RoleReferee)
	coach.join("m1", auth.RoleCoach)
	// A spectator claiming a team is not placed on it.
	joined := fan.joinWith(room.JoinRequest{MatchID: "m1", TeamID: "home"})
	if joined.Member.TeamID != "" {
		t.Fatalf("spectator was granted team %q", joined.Member.TeamID)
	}

	coach.send(MsgChatMessage, "c1", ChatRequest{Room: "m1", Message: "press higher", TeamID: "home"})
	coach.await(ReplyChatAck)
	msg, _ := ref.await(events.ChatMessage)
	var payload events.ChatPayload
	json.Unmarshal(msg.Data, &payload)
	if payload.Message != "press higher" || payload.UserID != "coach" {
		t.Fatalf("unexpected chat payload %+v", payload)
	}

	fan.send(MsgPing, "p1", nil)
	_, seen := fan.await(ReplyPong)
	for _, f := range seen {
		if f.Type == events.ChatMessage {
			t.Fatalf("team chat leaked to a spectator")
		}
	}

	fan.send(MsgChatMessage, "c3", ChatRequest{Room: "m1", Message: "we want a goal", TeamID: "home"})
	f, _ := fan.await(ReplyError)
	if f.Error.Kind != matcherr.KindAuthorization {
		t.Fatalf("spectator should not post as a team, got %+v", f.Error)
	}

	coach.send(MsgChatMessage, "c2", ChatRequest{Room: "m1", Message: "hello", TeamID: "away"})
	f, _ = coach.await(ReplyError)
	if f.Error.Kind != matcherr.KindAuthorization {
		t.Fatalf("coach should not message the other team, got %+v", f.Error)
	}
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t, spectator)

	c.conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	f, _ := c.await(ReplyError)
	if f.Error.Kind != matcherr.KindValidation {
		t.Fatalf("unexpected error %+v", f.Error)
	}

	c.send("bogus", "b1", map[string]string{})
	f, _ = c.await(ReplyError)
	if f.RequestID != "b1" || f.Error.Kind != matcherr.KindValidation {
		t.Fatalf("unexpected error frame %+v", f)
	}

	c.send(MsgJoinMatch, "j1", room.JoinRequest{MatchID: "unknown"})
	f, _ = c.await(ReplyError)
	if f.Error.Kind != matcherr.KindNotFound {
		t.Fatalf("unknown match should be not_found, got %+v", f.Error)
	}
}

func TestDisconnectEndsOwnedSession(t *testing.T) {
	s := newTestServer(t)
	ref := s.dial(t, referee)
	fan := s.dial(t, spectator)
	ref.join("m1", auth.RoleReferee)
	fan.join("m1", "")

	ref.send(MsgStartEventEntry, "s1", MatchRef{MatchID: "m1"})
	ref.await(ReplyEventEntryStarted)
	fan.await(events.Notification)

	ref.conn.Close()

	note, _ := fan.await(events.Notification)
	var payload events.NotificationPayload
	json.Unmarshal(note.Data, &payload)
	if payload.Kind != events.NotifyEntryEnded {
		t.Fatalf("expected entry ended notification, got %+v", payload)
	}
	if s.sessions.Status("m1").IsActive {
		t.Fatalf("session should end with its connection")
	}

	fan.send(MsgGetEventEntryStatus, "q1", MatchRef{MatchID: "m1"})
	status, _ := fan.await(ReplyEventEntryStatus)
	var st session.Status
	json.Unmarshal(status.Data, &st)
	if st.IsActive {
		t.Fatalf("status should report no active session, got %+v", st)
	}
}

func TestStateRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/api/matches/m1/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before the match is loaded, got %d", resp.StatusCode)
	}

	ref := s.dial(t, referee)
	ref.join("m1", auth.RoleReferee)
	ref.send(MsgStartEventEntry, "s1", MatchRef{MatchID: "m1"})
	ref.await(ReplyEventEntryStarted)

	var active []MatchSummary
	getJSON(t, s.URL+"/api/matches/active", &active)
	if len(active) != 1 || active[0].MatchID != "m1" || active[0].Members != 1 {
		t.Fatalf("unexpected active matches %+v", active)
	}

	var sessions []session.Session
	getJSON(t, s.URL+"/api/sessions/active", &sessions)
	if len(sessions) != 1 || sessions[0].OwnerUserID != "ref" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	var stats room.Stats
	getJSON(t, s.URL+"/api/matches/m1/room", &stats)
	if stats.Members != 1 || stats.ByRole["referee"] != 1 {
		t.Fatalf("unexpected room stats %+v", stats)
	}

	var conns ConnectionStats
	getJSON(t, s.URL+"/ws/stats", &conns)
	if conns.TotalConnections != 1 || conns.Users != 1 {
		t.Fatalf("unexpected connection stats %+v", conns)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
