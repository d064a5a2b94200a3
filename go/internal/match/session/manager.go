package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/rs/zerolog/log"
)

// EndReason records why a session became inactive.
type EndReason string

const (
	EndReasonEnded      EndReason = "ended"
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonIdle       EndReason = "idle_timeout"
	EndReasonArchived   EndReason = "archived"
)

// Session is the single-writer data entry window of one connection on one match.
type Session struct {
	ID                string    `json:"sessionId"`
	MatchID           string    `json:"matchId"`
	OwnerConnectionID string    `json:"ownerConnectionId"`
	OwnerUserID       string    `json:"ownerUserId,omitempty"`
	StartedAt         time.Time `json:"startedAt"`
	LastActivity      time.Time `json:"lastActivity"`
	IsActive          bool      `json:"isActive"`
}

// Status is the view of a match's entry session returned to clients.
type Status struct {
	MatchID           string     `json:"matchId"`
	IsActive          bool       `json:"isActive"`
	SessionID         string     `json:"sessionId,omitempty"`
	OwnerConnectionID string     `json:"ownerConnectionId,omitempty"`
	OwnerUserID       string     `json:"ownerUserId,omitempty"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	LastActivity      *time.Time `json:"lastActivity,omitempty"`
}

type Config struct {
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout: 10 * time.Minute,
	}
}

type active struct {
	session Session
	timer   clockwork.Timer
}

// Manager tracks at most one active session per match.
type Manager struct {
	clock  clockwork.Clock
	config Config

	mu      sync.Mutex
	byMatch map[string]*active
	byID    map[string]*active

	// onEnd is called without the lock held after a session ends for any reason
	// other than an explicit End call.
	onEnd func(s Session, reason EndReason)
}

func NewManager(clock clockwork.Clock, config Config) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Manager{
		clock:   clock,
		config:  config,
		byMatch: make(map[string]*active),
		byID:    make(map[string]*active),
	}
}

// OnEnd registers the callback for sessions ended by disconnect, idle timeout or archival.
func (m *Manager) OnEnd(fn func(s Session, reason EndReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

// Start opens a session for connectionID. It is rejected while another
// connection owns the match; the owner starting again gets its session back.
func (m *Manager) Start(matchID, connectionID, userID string) (Session, error) {
	if matchID == "" {
		return Session{}, matcherr.Validation("matchId is required", matcherr.FieldError{Field: "matchId", Message: "is required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if a, ok := m.byMatch[matchID]; ok {
		if a.session.OwnerConnectionID != connectionID {
			return Session{}, matcherr.Conflict("event entry for match %s is owned by another connection", matchID)
		}
		m.touchLocked(a, now)
		return a.session, nil
	}

	a := &active{session: Session{
		ID:                uuid.New().String(),
		MatchID:           matchID,
		OwnerConnectionID: connectionID,
		OwnerUserID:       userID,
		StartedAt:         now,
		LastActivity:      now,
		IsActive:          true,
	}}
	id := a.session.ID
	a.timer = m.clock.AfterFunc(m.config.IdleTimeout, func() { m.expire(id) })
	m.byMatch[matchID] = a
	m.byID[id] = a

	log.Info().
		Str("match_id", matchID).
		Str("session_id", id).
		Str("connection_id", connectionID).
		Msg("event entry session started")

	return a.session, nil
}

// End closes sessionID on behalf of connectionID. Ending a session that is no
// longer active succeeds and reports it inactive.
func (m *Manager) End(sessionID, connectionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[sessionID]
	if !ok {
		return Session{ID: sessionID, IsActive: false}, nil
	}
	if a.session.OwnerConnectionID != connectionID {
		return Session{}, matcherr.Unauthorized("session %s is owned by another connection", sessionID)
	}
	return m.endLocked(a, EndReasonEnded), nil
}

// Status reports the active session of matchID, if any.
func (m *Manager) Status(matchID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byMatch[matchID]
	if !ok {
		return Status{MatchID: matchID}
	}
	started, last := a.session.StartedAt, a.session.LastActivity
	return Status{
		MatchID:           matchID,
		IsActive:          true,
		SessionID:         a.session.ID,
		OwnerConnectionID: a.session.OwnerConnectionID,
		OwnerUserID:       a.session.OwnerUserID,
		StartedAt:         &started,
		LastActivity:      &last,
	}
}

// Require checks that connectionID owns the active session of matchID.
func (m *Manager) Require(matchID, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byMatch[matchID]
	if !ok {
		return matcherr.Conflict("no active event entry session for match %s", matchID)
	}
	if a.session.OwnerConnectionID != connectionID {
		return matcherr.Conflict("event entry for match %s is owned by another connection", matchID)
	}
	return nil
}

// Touch refreshes the idle deadline when connectionID owns the session of matchID.
func (m *Manager) Touch(matchID, connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.byMatch[matchID]; ok && a.session.OwnerConnectionID == connectionID {
		m.touchLocked(a, m.clock.Now())
	}
}

// EndForConnection ends the session connectionID owns on matchID, or on every
// match when matchID is empty.
func (m *Manager) EndForConnection(connectionID, matchID string) []Session {
	m.mu.Lock()
	var ended []Session
	for id, a := range m.byMatch {
		if a.session.OwnerConnectionID != connectionID || (matchID != "" && id != matchID) {
			continue
		}
		ended = append(ended, m.endLocked(a, EndReasonDisconnect))
	}
	onEnd := m.onEnd
	m.mu.Unlock()

	if onEnd != nil {
		for _, s := range ended {
			onEnd(s, EndReasonDisconnect)
		}
	}
	return ended
}

// EndForMatch ends whatever session is active on matchID.
func (m *Manager) EndForMatch(matchID string) {
	m.mu.Lock()
	a, ok := m.byMatch[matchID]
	var ended Session
	if ok {
		ended = m.endLocked(a, EndReasonArchived)
	}
	onEnd := m.onEnd
	m.mu.Unlock()

	if ok && onEnd != nil {
		onEnd(ended, EndReasonArchived)
	}
}

// Active lists the active sessions.
func (m *Manager) Active() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.byMatch))
	for _, a := range m.byMatch {
		out = append(out, a.session)
	}
	return out
}

func (m *Manager) expire(sessionID string) {
	m.mu.Lock()
	a, ok := m.byID[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	// A touch may have raced the timer.
	if idle := m.clock.Since(a.session.LastActivity); idle < m.config.IdleTimeout {
		a.timer.Reset(m.config.IdleTimeout - idle)
		m.mu.Unlock()
		return
	}
	ended := m.endLocked(a, EndReasonIdle)
	onEnd := m.onEnd
	m.mu.Unlock()

	if onEnd != nil {
		onEnd(ended, EndReasonIdle)
	}
}

func (m *Manager) touchLocked(a *active, now time.Time) {
	a.session.LastActivity = now
	a.timer.Reset(m.config.IdleTimeout)
}

func (m *Manager) endLocked(a *active, reason EndReason) Session {
	a.timer.Stop()
	delete(m.byMatch, a.session.MatchID)
	delete(m.byID, a.session.ID)
	a.session.IsActive = false

	log.Info().
		Str("match_id", a.session.MatchID).
		Str("session_id", a.session.ID).
		Str("connection_id", a.session.OwnerConnectionID).
		Str("reason", string(reason)).
		Msg("event entry session ended")

	return a.session
}
