package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrNoChange is returned by a MutateFunc to leave state untouched without
// reporting a failure. The sequence is not bumped and nothing is broadcast.
var ErrNoChange = errors.New("no change")

// FixtureProvider resolves the participants of a match.
type FixtureProvider interface {
	GetFixture(ctx context.Context, matchID string) (*models.Fixture, error)
}

// Broadcaster receives every envelope produced by a successful mutation. It is
// called while the match is locked and must not block or call back into the store.
type Broadcaster interface {
	Broadcast(env *events.Envelope)
}

// MutateFunc changes s in place and returns the broadcasts describing the change.
// s is a private copy; returning an error discards it.
type MutateFunc func(s *models.MatchState, now time.Time) ([]events.Broadcast, error)

type entry struct {
	mu           sync.Mutex
	state        *models.MatchState
	correlations *correlationCache
}

// Store holds the authoritative state of every live match in the process.
type Store struct {
	fixtures    FixtureProvider
	clock       clockwork.Clock
	broadcaster Broadcaster

	mu      sync.RWMutex
	matches map[string]*entry
}

func NewStore(fixtures FixtureProvider, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		fixtures: fixtures,
		clock:    clock,
		matches:  make(map[string]*entry),
	}
}

// SetBroadcaster wires the room fan-out. It must be called before any mutation.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *Store) lookup(matchID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.matches[matchID]
	return e, ok
}

// Ensure returns the state for matchID, creating it from its fixture on first use.
func (s *Store) Ensure(ctx context.Context, matchID string) (*models.MatchState, error) {
	if matchID == "" {
		return nil, matcherr.Validation("matchId is required", matcherr.FieldError{Field: "matchId", Message: "is required"})
	}
	if e, ok := s.lookup(matchID); ok {
		return e.snapshot(), nil
	}
	if s.fixtures == nil {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}

	fixture, err := s.fixtures.GetFixture(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("load fixture: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matches[matchID]; ok {
		return e.snapshot(), nil
	}
	e := &entry{
		state:        models.NewMatchState(*fixture, s.clock.Now()),
		correlations: newCorrelationCache(correlationCacheSize),
	}
	s.matches[matchID] = e

	log.Info().
		Str("match_id", matchID).
		Str("home_team_id", fixture.HomeTeamID).
		Str("away_team_id", fixture.AwayTeamID).
		Msg("match state created")

	return e.snapshot(), nil
}

// Get returns a copy of the current state of matchID.
func (s *Store) Get(matchID string) (*models.MatchState, error) {
	e, ok := s.lookup(matchID)
	if !ok {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}
	return e.snapshot(), nil
}

// View runs fn with the current state while mutations of matchID are held off.
// fn must not modify s or call back into the store.
func (s *Store) View(matchID string, fn func(s *models.MatchState) error) error {
	e, ok := s.lookup(matchID)
	if !ok {
		return matcherr.NotFound("match %s not found", matchID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// MatchIDs lists the live matches.
func (s *Store) MatchIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.matches))
	for id := range s.matches {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops matchID from memory.
func (s *Store) Remove(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[matchID]; ok {
		delete(s.matches, matchID)
		log.Info().Str("match_id", matchID).Msg("match state removed")
	}
}

// Mutate is the only write path into a match. fn runs on a copy of the state;
// on success the copy replaces the state, the sequence is bumped and the
// resulting broadcasts are handed to the broadcaster before the lock is released.
func (s *Store) Mutate(matchID string, fn MutateFunc) (*models.MatchState, error) {
	e, ok := s.lookup(matchID)
	if !ok {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return s.mutateLocked(e, matchID, fn)
}

func (s *Store) mutateLocked(e *entry, matchID string, fn MutateFunc) (*models.MatchState, error) {
	if e.state.Terminal() {
		return nil, matcherr.Conflict("match %s is completed", matchID)
	}

	now := s.clock.Now()
	next := e.state.Clone()
	broadcasts, err := fn(next, now)
	if errors.Is(err, ErrNoChange) {
		return e.state.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	next.Seq = e.state.Seq + 1
	next.UpdatedAt = now
	e.state = next

	s.publish(matchID, next.Seq, now, broadcasts)
	return next.Clone(), nil
}

func (s *Store) publish(matchID string, seq uint64, now time.Time, broadcasts []events.Broadcast) {
	if s.broadcaster == nil {
		return
	}
	for _, b := range broadcasts {
		env, err := events.NewEnvelope(matchID, seq, now, b)
		if err != nil {
			log.Error().Err(err).Str("match_id", matchID).Str("event_type", b.Type).Msg("failed to build broadcast")
			continue
		}
		s.broadcaster.Broadcast(env)
	}
}

// AppendResult is the outcome of AppendEvent.
type AppendResult struct {
	State     *models.MatchState
	Event     models.MatchEvent
	Duplicate bool
}

// AppendEvent assigns ev a time-ordered id and the next sequence, appends it to
// the log, applies its score effect and broadcasts match-event. An event whose
// correlation id was already seen for the match returns the original event with
// Duplicate set and changes nothing.
func (s *Store) AppendEvent(matchID string, ev models.MatchEvent) (AppendResult, error) {
	e, ok := s.lookup(matchID)
	if !ok {
		return AppendResult{}, matcherr.NotFound("match %s not found", matchID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.CorrelationID != "" {
		if prev, ok := e.correlations.get(ev.CorrelationID); ok {
			return AppendResult{State: e.state.Clone(), Event: prev, Duplicate: true}, nil
		}
	}

	var appended models.MatchEvent
	st, err := s.mutateLocked(e, matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		if !st.HasTeam(ev.TeamID) {
			return nil, matcherr.Validation("team is not a participant",
				matcherr.FieldError{Field: "teamId", Message: "is not a participant of the match"})
		}
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate event id: %w", err)
		}
		ev.ID = id.String()
		ev.MatchID = matchID
		ev.Sequence = uint64(len(st.Events)) + 1
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		if ev.Period == "" {
			ev.Period = st.CurrentPeriod
		}
		st.Events = append(st.Events, ev)
		applyScore(st, ev)
		appended = ev

		return []events.Broadcast{{
			Type: events.MatchEvent,
			Data: events.MatchEventPayload{Event: ev, HomeScore: st.HomeScore, AwayScore: st.AwayScore},
		}}, nil
	})
	if err != nil {
		return AppendResult{}, err
	}

	if appended.CorrelationID != "" {
		e.correlations.put(appended.CorrelationID, appended)
	}

	log.Debug().
		Str("match_id", matchID).
		Str("event_id", appended.ID).
		Str("event_type", string(appended.Type)).
		Uint64("sequence", appended.Sequence).
		Msg("event appended")

	return AppendResult{State: st, Event: appended}, nil
}

func applyScore(st *models.MatchState, ev models.MatchEvent) {
	switch ev.ScoringTeam(st.HomeTeamID, st.AwayTeamID) {
	case st.HomeTeamID:
		st.HomeScore++
	case st.AwayTeamID:
		st.AwayScore++
	}
}

// StatusHook adjusts the rest of the state in the same step as a status change.
// It runs after st.Status has been set to the new status.
type StatusHook func(st *models.MatchState, from models.MatchStatus, now time.Time) ([]events.Broadcast, error)

// ChangeStatus moves matchID to status to, enforcing the status machine, and
// broadcasts match-status-change followed by whatever hook returns.
func (s *Store) ChangeStatus(matchID string, to models.MatchStatus, reason string, hook StatusHook) (*models.MatchState, error) {
	return s.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		from := st.Status
		change, err := SetStatus(st, to, reason, now)
		if err != nil {
			return nil, err
		}

		out := []events.Broadcast{change}
		if hook != nil {
			extra, err := hook(st, from, now)
			if err != nil {
				return nil, err
			}
			out = append(out, extra...)
		}

		log.Info().
			Str("match_id", matchID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("match status changed")

		return out, nil
	})
}

// SetStatus applies a validated status transition to st and returns the
// match-status-change broadcast for it. For use inside a MutateFunc.
func SetStatus(st *models.MatchState, to models.MatchStatus, reason string, now time.Time) (events.Broadcast, error) {
	from := st.Status
	if err := ValidateTransition(from, to); err != nil {
		return events.Broadcast{}, err
	}

	st.Status = to
	switch to {
	case models.MatchStatusInProgress:
		if st.StartedAt == nil {
			t := now
			st.StartedAt = &t
		}
	case models.MatchStatusCompleted:
		t := now
		st.CompletedAt = &t
	}

	return events.Broadcast{
		Type: events.MatchStatusChange,
		Data: events.StatusChangePayload{PreviousStatus: from, Status: to, Reason: reason, ChangedAt: now},
	}, nil
}

func (e *entry) snapshot() *models.MatchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}
