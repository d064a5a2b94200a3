package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType defines the kind of a match event.
type EventType string

const (
	EventTypeGoal         EventType = "goal"
	EventTypeAssist       EventType = "assist"
	EventTypeYellowCard   EventType = "yellow_card"
	EventTypeRedCard      EventType = "red_card"
	EventTypeSubstitution EventType = "substitution"
	EventTypeInjury       EventType = "injury"
	EventTypeCorner       EventType = "corner"
	EventTypeFoul         EventType = "foul"
	EventTypeShot         EventType = "shot"
	EventTypeSave         EventType = "save"
	EventTypeOffside      EventType = "offside"
	EventTypeOther        EventType = "other"
)

// Valid reports whether t is in the recognized set.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeGoal, EventTypeAssist, EventTypeYellowCard, EventTypeRedCard,
		EventTypeSubstitution, EventTypeInjury, EventTypeCorner, EventTypeFoul,
		EventTypeShot, EventTypeSave, EventTypeOffside, EventTypeOther:
		return true
	}
	return false
}

// EventDetails is the type-specific part of a match event. The concrete type is
// determined by the event type.
type EventDetails interface {
	eventDetails()
}

type GoalType string

const (
	GoalTypeOpenPlay GoalType = "open_play"
	GoalTypePenalty  GoalType = "penalty"
	GoalTypeOwnGoal  GoalType = "own_goal"
	GoalTypeHeader   GoalType = "header"
	GoalTypeFreeKick GoalType = "free_kick"
)

func (g GoalType) Valid() bool {
	switch g {
	case GoalTypeOpenPlay, GoalTypePenalty, GoalTypeOwnGoal, GoalTypeHeader, GoalTypeFreeKick:
		return true
	}
	return false
}

type CardType string

const (
	CardTypeYellow       CardType = "yellow"
	CardTypeSecondYellow CardType = "second_yellow"
	CardTypeRed          CardType = "red"
)

func (c CardType) Valid() bool {
	switch c {
	case CardTypeYellow, CardTypeSecondYellow, CardTypeRed:
		return true
	}
	return false
}

type ShotType string

const (
	ShotTypeOnTarget  ShotType = "on_target"
	ShotTypeOffTarget ShotType = "off_target"
	ShotTypeBlocked   ShotType = "blocked"
)

func (s ShotType) Valid() bool {
	switch s {
	case ShotTypeOnTarget, ShotTypeOffTarget, ShotTypeBlocked:
		return true
	}
	return false
}

// GoalDetails accompanies goal events.
type GoalDetails struct {
	GoalType GoalType `json:"goalType"`
}

// CardDetails accompanies yellow_card and red_card events.
type CardDetails struct {
	CardType CardType `json:"cardType"`
	Reason   string   `json:"reason,omitempty"`
}

// SubstitutionDetails accompanies substitution events.
type SubstitutionDetails struct {
	PlayerOutID string `json:"playerOutId"`
	PlayerInID  string `json:"playerInId"`
}

// ShotDetails accompanies shot and save events.
type ShotDetails struct {
	ShotType ShotType `json:"shotType"`
}

// InjuryDetails accompanies injury events.
type InjuryDetails struct {
	Severity string `json:"severity,omitempty"`
}

func (GoalDetails) eventDetails()         {}
func (CardDetails) eventDetails()         {}
func (SubstitutionDetails) eventDetails() {}
func (ShotDetails) eventDetails()         {}
func (InjuryDetails) eventDetails()       {}

// DecodeDetails parses raw details for the given event type. Types without a
// variant return nil details; empty input returns nil details.
func DecodeDetails(t EventType, raw json.RawMessage) (EventDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		details EventDetails
		err     error
	)
	switch t {
	case EventTypeGoal:
		var d GoalDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case EventTypeYellowCard, EventTypeRedCard:
		var d CardDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case EventTypeSubstitution:
		var d SubstitutionDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case EventTypeShot, EventTypeSave:
		var d ShotDetails
		err = json.Unmarshal(raw, &d)
		details = d
	case EventTypeInjury:
		var d InjuryDetails
		err = json.Unmarshal(raw, &d)
		details = d
	default:
		return nil, fmt.Errorf("event type %s takes no details", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s details: %w", t, err)
	}
	return details, nil
}

// MatchEvent is an immutable entry in a match's event log.
type MatchEvent struct {
	ID                string       `json:"id"`
	MatchID           string       `json:"matchId"`
	Sequence          uint64       `json:"sequence"`
	Type              EventType    `json:"type"`
	Minute            int          `json:"minute"`
	Period            Period       `json:"period"`
	TeamID            string       `json:"teamId"`
	PlayerID          string       `json:"playerId,omitempty"`
	SecondaryPlayerID string       `json:"secondaryPlayerId,omitempty"`
	Description       string       `json:"description,omitempty"`
	Details           EventDetails `json:"details,omitempty"`
	CorrelationID     string       `json:"correlationId,omitempty"`
	CreatedBy         string       `json:"createdBy,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// UnmarshalJSON decodes the details variant according to the event type.
func (e *MatchEvent) UnmarshalJSON(data []byte) error {
	type alias MatchEvent
	aux := struct {
		*alias
		Details json.RawMessage `json:"details,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	details, err := DecodeDetails(e.Type, aux.Details)
	if err != nil {
		return err
	}
	e.Details = details
	return nil
}

// IsOwnGoal reports whether a goal event is credited to the other team.
func (e MatchEvent) IsOwnGoal() bool {
	d, ok := e.Details.(GoalDetails)
	return ok && d.GoalType == GoalTypeOwnGoal
}

// ScoringTeam returns the team credited by a goal event, or "" for any other
// event type.
func (e MatchEvent) ScoringTeam(homeTeamID, awayTeamID string) string {
	if e.Type != EventTypeGoal {
		return ""
	}
	if !e.IsOwnGoal() {
		return e.TeamID
	}
	switch e.TeamID {
	case homeTeamID:
		return awayTeamID
	case awayTeamID:
		return homeTeamID
	}
	return ""
}
