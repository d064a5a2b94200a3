package entry

import (
	"context"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds event entry rules.
type Config struct {
	// MinuteTolerance is how far past the clock (plus injury time) a minute may be.
	MinuteTolerance int
	MaxDescription  int
	// RequireSession rejects submissions from connections without an active entry session.
	RequireSession bool
	RecordTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinuteTolerance: 5,
		MaxDescription:  500,
		RequireSession:  true,
		RecordTimeout:   5 * time.Second,
	}
}

// Authorizer checks room-scoped capabilities.
type Authorizer interface {
	Authorize(matchID, connectionID string, capability auth.Capability) (room.Member, error)
}

// SessionGate is the entry session view the submitter needs.
type SessionGate interface {
	Require(matchID, connectionID string) error
	Status(matchID string) session.Status
	Touch(matchID, connectionID string)
}

// EventStore appends accepted events.
type EventStore interface {
	StateReader
	AppendEvent(matchID string, ev models.MatchEvent) (state.AppendResult, error)
}

// EventRecorder persists accepted events outside the process.
type EventRecorder interface {
	RecordEvent(ctx context.Context, st *models.MatchState, ev models.MatchEvent) error
}

// Receipt acknowledges a submission.
type Receipt struct {
	Success   bool   `json:"success"`
	EventID   string `json:"eventId,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Message   string `json:"message,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Submitter turns validated forms into appended events.
type Submitter struct {
	store     EventStore
	rooms     Authorizer
	sessions  SessionGate
	recorder  EventRecorder
	validator *Validator
	config    Config
}

func NewSubmitter(store EventStore, rooms Authorizer, sessions SessionGate, recorder EventRecorder, config Config) *Submitter {
	return &Submitter{
		store:     store,
		rooms:     rooms,
		sessions:  sessions,
		recorder:  recorder,
		validator: NewValidator(store, config),
		config:    config,
	}
}

// Validate checks form on behalf of connectionID without mutating anything.
func (s *Submitter) Validate(connectionID string, form FormData) (Result, error) {
	if _, err := s.rooms.Authorize(form.MatchID, connectionID, auth.CapEventEntry); err != nil {
		return Result{}, err
	}
	res, _ := s.validator.Validate(form)
	return res, nil
}

// Submit validates form, appends the event and records it. Validation failures
// return the field errors as a validation error and leave the match untouched.
func (s *Submitter) Submit(ctx context.Context, connectionID string, form FormData) (Receipt, error) {
	member, err := s.rooms.Authorize(form.MatchID, connectionID, auth.CapEventSubmit)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.gate(form.MatchID, connectionID); err != nil {
		return Receipt{}, err
	}

	res, ev := s.validator.Validate(form)
	if !res.IsValid {
		log.Debug().
			Str("match_id", form.MatchID).
			Str("connection_id", connectionID).
			Int("errors", len(res.Errors)).
			Msg("event entry rejected")
		return Receipt{Message: "event entry is invalid"}, res.Err()
	}
	ev.CreatedBy = member.UserID

	out, err := s.store.AppendEvent(form.MatchID, *ev)
	if err != nil {
		return Receipt{}, err
	}
	if s.sessions != nil {
		s.sessions.Touch(form.MatchID, connectionID)
	}

	if out.Duplicate {
		log.Info().
			Str("match_id", form.MatchID).
			Str("event_id", out.Event.ID).
			Str("correlation_id", form.CorrelationID).
			Msg("duplicate event submission")
		return Receipt{
			Success:   true,
			EventID:   out.Event.ID,
			Sequence:  out.Event.Sequence,
			Message:   "event already recorded",
			Duplicate: true,
		}, nil
	}

	s.record(ctx, out)

	log.Info().
		Str("match_id", form.MatchID).
		Str("event_id", out.Event.ID).
		Str("event_type", string(out.Event.Type)).
		Int("minute", out.Event.Minute).
		Str("user_id", member.UserID).
		Msg("event submitted")

	return Receipt{Success: true, EventID: out.Event.ID, Sequence: out.Event.Sequence, Message: "event recorded"}, nil
}

func (s *Submitter) gate(matchID, connectionID string) error {
	if s.sessions == nil {
		return nil
	}
	if s.config.RequireSession {
		return s.sessions.Require(matchID, connectionID)
	}
	if st := s.sessions.Status(matchID); st.IsActive && st.OwnerConnectionID != connectionID {
		return matcherr.Conflict("event entry for match %s is owned by another connection", matchID)
	}
	return nil
}

func (s *Submitter) record(ctx context.Context, out state.AppendResult) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RecordTimeout)
	defer cancel()

	if err := s.recorder.RecordEvent(ctx, out.State, out.Event); err != nil {
		log.Error().
			Err(err).
			Str("match_id", out.Event.MatchID).
			Str("event_id", out.Event.ID).
			Msg("failed to record event")
	}
}
