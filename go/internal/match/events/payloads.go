package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// Broadcast names pushed from the server to every member of a match room.
const (
	MatchEvent        = "match-event"
	MatchState        = "match-state"
	TimerUpdate       = "timer-update"
	PeriodTransition  = "period-transition"
	MatchStatusChange = "match-status-change"
	Notification      = "notification"
	ChatMessage       = "chat-message"
	PresenceUpdate    = "presence-update"
	MatchArchived     = "match-archived"
)

// Envelope is the broadcast frame. Seq is the state sequence the broadcast was
// produced from, so clients can drop deltas older than their last snapshot.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	MatchID   string          `json:"matchId"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Broadcast is a pending room broadcast produced by a state mutation.
type Broadcast struct {
	Type string
	Data any
}

// NewEnvelope marshals b into a broadcast frame for matchID.
func NewEnvelope(matchID string, seq uint64, at time.Time, b Broadcast) (*Envelope, error) {
	data, err := json.Marshal(b.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", b.Type, err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      b.Type,
		MatchID:   matchID,
		Seq:       seq,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// Parse decodes the envelope data into the payload type registered for its name.
func Parse(env *Envelope) (any, error) {
	var payload any
	switch env.Type {
	case MatchEvent:
		payload = &MatchEventPayload{}
	case MatchState:
		payload = &models.MatchState{}
	case TimerUpdate:
		payload = &TimerUpdatePayload{}
	case PeriodTransition:
		payload = &PeriodTransitionPayload{}
	case MatchStatusChange:
		payload = &StatusChangePayload{}
	case Notification:
		payload = &NotificationPayload{}
	case ChatMessage:
		payload = &ChatPayload{}
	case PresenceUpdate:
		payload = &PresencePayload{}
	case MatchArchived:
		payload = &ArchivedPayload{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// MatchEventPayload carries an accepted event and the score after it.
type MatchEventPayload struct {
	Event     models.MatchEvent `json:"event"`
	HomeScore int               `json:"homeScore"`
	AwayScore int               `json:"awayScore"`
}

// TimerUpdatePayload is sent on every clock tick and clock control.
type TimerUpdatePayload struct {
	Action         string             `json:"action"`
	Status         models.MatchStatus `json:"status"`
	CurrentPeriod  models.Period      `json:"currentPeriod"`
	CurrentMinute  int                `json:"currentMinute"`
	IsTimerRunning bool               `json:"isTimerRunning"`
	InjuryTime     int                `json:"injuryTime"`
	PeriodDuration int                `json:"periodDuration"`
	TotalPlayTime  int64              `json:"totalPlayTime"`
	PausedTime     int64              `json:"pausedTime"`
	PeriodPlayTime int64              `json:"periodPlayTime"`
}

// TimerUpdateFrom builds a timer update from the clock fields of s.
func TimerUpdateFrom(action string, s *models.MatchState) TimerUpdatePayload {
	return TimerUpdatePayload{
		Action:         action,
		Status:         s.Status,
		CurrentPeriod:  s.CurrentPeriod,
		CurrentMinute:  s.CurrentMinute,
		IsTimerRunning: s.IsTimerRunning,
		InjuryTime:     s.InjuryTime,
		PeriodDuration: s.PeriodDuration,
		TotalPlayTime:  s.TotalPlayTime,
		PausedTime:     s.PausedTime,
		PeriodPlayTime: s.PeriodPlayTime,
	}
}

type PeriodTransitionPayload struct {
	PreviousPeriod models.Period `json:"previousPeriod"`
	NewPeriod      models.Period `json:"newPeriod"`
	CurrentMinute  int           `json:"currentMinute"`
	IsTimerRunning bool          `json:"isTimerRunning"`
}

type StatusChangePayload struct {
	PreviousStatus models.MatchStatus `json:"previousStatus"`
	Status         models.MatchStatus `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	ChangedAt      time.Time          `json:"changedAt"`
}

// Notification kinds.
const (
	NotifyPeriodEndSuggested = "period-end-suggested"
	NotifyEntryStarted       = "event-entry-started"
	NotifyEntryEnded         = "event-entry-ended"
	NotifyEntryExpired       = "event-entry-expired"
)

type NotificationPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Minute    int    `json:"minute,omitempty"`
}

type ChatPayload struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	TeamID       string    `json:"teamId,omitempty"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sentAt"`
}

type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	TeamID       string `json:"teamId,omitempty"`
	Joined       bool   `json:"joined"`
	Members      int    `json:"members"`
}

type ArchivedPayload struct {
	ArchivedAt time.Time `json:"archivedAt"`
	HomeScore  int       `json:"homeScore"`
	AwayScore  int       `json:"awayScore"`
}
