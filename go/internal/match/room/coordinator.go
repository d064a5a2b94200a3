package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Subscriber is a connection that can receive room broadcasts. Send must not block.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
}

// Mirror receives a copy of every room broadcast for consumers outside the process.
type Mirror interface {
	Enqueue(env *events.Envelope)
}

// JoinRequest is the payload of join-match.
type JoinRequest struct {
	MatchID     string    `json:"matchId"`
	Role        auth.Role `json:"role"`
	TeamID      string    `json:"teamId,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// Member is one connection's membership of a match room.
type Member struct {
	MatchID      string            `json:"matchId"`
	ConnectionID string            `json:"connectionId"`
	UserID       string            `json:"userId"`
	Role         auth.Role         `json:"role"`
	TeamID       string            `json:"teamId,omitempty"`
	Capabilities []auth.Capability `json:"permissions"`
	JoinedAt     time.Time         `json:"joinedAt"`
}

func (m Member) Can(c auth.Capability) bool {
	return hasCapability(m.Capabilities, c)
}

// Stats summarizes a room.
type Stats struct {
	MatchID string         `json:"matchId"`
	Members int            `json:"members"`
	ByRole  map[string]int `json:"byRole"`
}

type membership struct {
	member Member
	sub    Subscriber
}

// Coordinator owns the match rooms: who is subscribed to which match and with
// which grant. Broadcasts reach exactly the current members of a room.
type Coordinator struct {
	store    *state.Store
	sessions *session.Manager
	perms    PermissionChecker
	mirror   Mirror
	clock    clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]map[string]*membership
	conns map[string]map[string]struct{}
}

func NewCoordinator(store *state.Store, sessions *session.Manager, perms PermissionChecker, clock clockwork.Clock) *Coordinator {
	if perms == nil {
		perms = ClaimsPermissionChecker{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		store:    store,
		sessions: sessions,
		perms:    perms,
		clock:    clock,
		rooms:    make(map[string]map[string]*membership),
		conns:    make(map[string]map[string]struct{}),
	}
}

// SetMirror wires the external broadcast publisher.
func (c *Coordinator) SetMirror(m Mirror) {
	c.mirror = m
}

// Join registers sub in the room of req.MatchID and returns the full state.
// Registration and the snapshot happen atomically with respect to mutations of
// the match, and onJoin runs in the same step so the caller can queue its reply
// ahead of any later broadcast.
func (c *Coordinator) Join(ctx context.Context, sub Subscriber, id auth.Identity, req JoinRequest, onJoin func(*models.MatchState, Member)) (*models.MatchState, Member, error) {
	if req.MatchID == "" {
		return nil, Member{}, matcherr.Validation("matchId is required", matcherr.FieldError{Field: "matchId", Message: "is required"})
	}

	current, err := c.store.Ensure(ctx, req.MatchID)
	if err != nil {
		return nil, Member{}, err
	}

	grant, err := c.perms.Resolve(ctx, id, current, req)
	if err != nil {
		if errors.Is(err, matcherr.ErrAuthorization) {
			log.Warn().
				Str("match_id", req.MatchID).
				Str("user_id", id.UserID).
				Str("connection_id", sub.ID()).
				Str("role", string(req.Role)).
				Msg("join rejected")
		}
		return nil, Member{}, err
	}

	member := Member{
		MatchID:      req.MatchID,
		ConnectionID: sub.ID(),
		UserID:       id.UserID,
		Role:         grant.Role,
		TeamID:       grant.TeamID,
		Capabilities: grant.Capabilities,
		JoinedAt:     c.clock.Now(),
	}

	var snapshot *models.MatchState
	var members int
	err = c.store.View(req.MatchID, func(st *models.MatchState) error {
		members = c.register(member, sub)
		snapshot = st.Clone()
		if onJoin != nil {
			onJoin(snapshot, member)
		}
		return nil
	})
	if err != nil {
		return nil, Member{}, err
	}

	log.Info().
		Str("match_id", req.MatchID).
		Str("connection_id", member.ConnectionID).
		Str("user_id", member.UserID).
		Str("role", string(member.Role)).
		Int("members", members).
		Msg("joined match room")

	c.Notify(req.MatchID, events.Broadcast{Type: events.PresenceUpdate, Data: presence(member, true, members)}, nil)
	return snapshot, member, nil
}

func (c *Coordinator) register(m Member, sub Subscriber) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[m.MatchID]
	if !ok {
		room = make(map[string]*membership)
		c.rooms[m.MatchID] = room
	}
	room[m.ConnectionID] = &membership{member: m, sub: sub}

	if c.conns[m.ConnectionID] == nil {
		c.conns[m.ConnectionID] = make(map[string]struct{})
	}
	c.conns[m.ConnectionID][m.MatchID] = struct{}{}
	return len(room)
}

func (c *Coordinator) unregister(matchID, connectionID string) (Member, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[matchID]
	if !ok {
		return Member{}, 0, false
	}
	ms, ok := room[connectionID]
	if !ok {
		return Member{}, 0, false
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(c.rooms, matchID)
	}
	if matches := c.conns[connectionID]; matches != nil {
		delete(matches, matchID)
		if len(matches) == 0 {
			delete(c.conns, connectionID)
		}
	}
	return ms.member, len(room), true
}

// Leave removes connectionID from the room. A session it owned on the match
// is ended. Leaving a room the connection is not in is a no-op.
func (c *Coordinator) Leave(matchID, connectionID string) bool {
	member, remaining, ok := c.unregister(matchID, connectionID)
	if !ok {
		return false
	}
	if c.sessions != nil {
		c.sessions.EndForConnection(connectionID, matchID)
	}

	log.Info().
		Str("match_id", matchID).
		Str("connection_id", connectionID).
		Int("members", remaining).
		Msg("left match room")

	c.Notify(matchID, events.Broadcast{Type: events.PresenceUpdate, Data: presence(member, false, remaining)}, nil)
	return true
}

// Disconnect removes connectionID from every room it joined.
func (c *Coordinator) Disconnect(connectionID string) {
	c.mu.RLock()
	var matchIDs []string
	for id := range c.conns[connectionID] {
		matchIDs = append(matchIDs, id)
	}
	c.mu.RUnlock()

	for _, id := range matchIDs {
		c.Leave(id, connectionID)
	}
	if c.sessions != nil {
		c.sessions.EndForConnection(connectionID, "")
	}
}

// Broadcast delivers env to every member of its room. It is the state store's
// broadcaster, so it runs with the match locked.
func (c *Coordinator) Broadcast(env *events.Envelope) {
	c.deliver(env, nil)
}

// Notify broadcasts b stamped with the current sequence of matchID, optionally
// only to the members filter accepts.
func (c *Coordinator) Notify(matchID string, b events.Broadcast, filter func(Member) bool) {
	err := c.store.View(matchID, func(st *models.MatchState) error {
		env, err := events.NewEnvelope(matchID, st.Seq, c.clock.Now(), b)
		if err != nil {
			return err
		}
		c.deliver(env, filter)
		return nil
	})
	if err != nil && !errors.Is(err, matcherr.ErrNotFound) {
		log.Error().Err(err).Str("match_id", matchID).Str("event_type", b.Type).Msg("failed to notify room")
	}
}

// SyncState broadcasts the full current state of matchID as match-state.
func (c *Coordinator) SyncState(matchID string) {
	err := c.store.View(matchID, func(st *models.MatchState) error {
		env, err := events.NewEnvelope(matchID, st.Seq, c.clock.Now(), events.Broadcast{Type: events.MatchState, Data: st})
		if err != nil {
			return err
		}
		c.deliver(env, nil)
		return nil
	})
	if err != nil && !errors.Is(err, matcherr.ErrNotFound) {
		log.Error().Err(err).Str("match_id", matchID).Msg("failed to sync match state")
	}
}

func (c *Coordinator) deliver(env *events.Envelope, filter func(Member) bool) {
	c.mu.RLock()
	room := c.rooms[env.MatchID]
	targets := make([]*membership, 0, len(room))
	for _, ms := range room {
		if filter != nil && !filter(ms.member) {
			continue
		}
		targets = append(targets, ms)
	}
	c.mu.RUnlock()

	if c.mirror != nil && filter == nil {
		c.mirror.Enqueue(env)
	}
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("match_id", env.MatchID).Msg("failed to marshal broadcast")
		return
	}

	for _, ms := range targets {
		if !ms.sub.Send(data) {
			log.Warn().
				Str("match_id", env.MatchID).
				Str("connection_id", ms.member.ConnectionID).
				Str("event_type", env.Type).
				Msg("subscriber send buffer full, broadcast dropped")
		}
	}

	log.Debug().
		Str("match_id", env.MatchID).
		Str("event_type", env.Type).
		Uint64("seq", env.Seq).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Authorize checks that connectionID is in the room of matchID with capability cap.
func (c *Coordinator) Authorize(matchID, connectionID string, capability auth.Capability) (Member, error) {
	member, ok := c.Member(matchID, connectionID)
	if !ok {
		log.Warn().
			Str("match_id", matchID).
			Str("connection_id", connectionID).
			Str("capability", string(capability)).
			Msg("action rejected: not a room member")
		return Member{}, matcherr.Unauthorized("connection has not joined match %s", matchID)
	}
	if !member.Can(capability) {
		log.Warn().
			Str("match_id", matchID).
			Str("connection_id", connectionID).
			Str("user_id", member.UserID).
			Str("role", string(member.Role)).
			Str("capability", string(capability)).
			Msg("action rejected: missing capability")
		return Member{}, matcherr.Unauthorized("role %s may not %s", member.Role, capability)
	}
	return member, nil
}

func (c *Coordinator) Member(matchID, connectionID string) (Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.rooms[matchID][connectionID]
	if !ok {
		return Member{}, false
	}
	return ms.member, true
}

func (c *Coordinator) Members(matchID string) []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Member, 0, len(c.rooms[matchID]))
	for _, ms := range c.rooms[matchID] {
		out = append(out, ms.member)
	}
	return out
}

func (c *Coordinator) Stats(matchID string) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{MatchID: matchID, ByRole: make(map[string]int)}
	for _, ms := range c.rooms[matchID] {
		stats.Members++
		stats.ByRole[string(ms.member.Role)]++
	}
	return stats
}

// Rooms lists the matches with at least one member.
func (c *Coordinator) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Close sends b to the room and drops every membership of matchID.
func (c *Coordinator) Close(matchID string, b events.Broadcast) int {
	c.Notify(matchID, b, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.rooms[matchID]
	for connID := range room {
		if matches := c.conns[connID]; matches != nil {
			delete(matches, matchID)
			if len(matches) == 0 {
				delete(c.conns, connID)
			}
		}
	}
	delete(c.rooms, matchID)
	return len(room)
}

func presence(m Member, joined bool, members int) events.PresencePayload {
	return events.PresencePayload{
		ConnectionID: m.ConnectionID,
		UserID:       m.UserID,
		Role:         string(m.Role),
		TeamID:       m.TeamID,
		Joined:       joined,
		Members:      members,
	}
}
