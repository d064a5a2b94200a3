package models

import (
	"time"
)

// MatchStatus defines the lifecycle status of a live match.
type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusPaused     MatchStatus = "paused"
	MatchStatusCompleted  MatchStatus = "completed"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusScheduled, MatchStatusInProgress, MatchStatusPaused, MatchStatusCompleted:
		return true
	}
	return false
}

// Period defines a phase of match play.
type Period string

const (
	PeriodFirstHalf  Period = "first_half"
	PeriodHalftime   Period = "halftime"
	PeriodSecondHalf Period = "second_half"
	PeriodExtraTime  Period = "extra_time"
	PeriodPenalties  Period = "penalties"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodFirstHalf, PeriodHalftime, PeriodSecondHalf, PeriodExtraTime, PeriodPenalties:
		return true
	}
	return false
}

// Clocked reports whether the match clock runs during p.
// Halftime and penalties are interim states with a frozen minute.
func (p Period) Clocked() bool {
	switch p {
	case PeriodFirstHalf, PeriodSecondHalf, PeriodExtraTime:
		return true
	}
	return false
}

// DefaultPeriodDuration is the nominal length of a playing period in minutes.
const DefaultPeriodDuration = 45

// Fixture is the scheduling record of a match as known to the persistence store.
type Fixture struct {
	MatchID        string     `json:"matchId"`
	HomeTeamID     string     `json:"homeTeamId"`
	AwayTeamID     string     `json:"awayTeamId"`
	PeriodDuration int        `json:"periodDuration"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

// HasTeam reports whether teamID is one of the two participants.
func (f Fixture) HasTeam(teamID string) bool {
	return teamID != "" && (teamID == f.HomeTeamID || teamID == f.AwayTeamID)
}

// MatchState is the authoritative snapshot of one live match.
type MatchState struct {
	MatchID        string       `json:"matchId"`
	HomeTeamID     string       `json:"homeTeamId"`
	AwayTeamID     string       `json:"awayTeamId"`
	Status         MatchStatus  `json:"status"`
	CurrentPeriod  Period       `json:"currentPeriod"`
	CurrentMinute  int          `json:"currentMinute"`
	IsTimerRunning bool         `json:"isTimerRunning"`
	InjuryTime     int          `json:"injuryTime"`
	PeriodDuration int          `json:"periodDuration"`
	HomeScore      int          `json:"homeScore"`
	AwayScore      int          `json:"awayScore"`
	Events         []MatchEvent `json:"events"`

	// Accumulated seconds
	TotalPlayTime  int64 `json:"totalPlayTime"`
	PausedTime     int64 `json:"pausedTime"`
	PeriodPlayTime int64 `json:"periodPlayTime"`

	// Seq increases by one on every successful mutation.
	Seq uint64 `json:"seq"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	// Clock bookkeeping, owned by the match clock.
	Play         time.Duration `json:"-"`
	PeriodPlay   time.Duration `json:"-"`
	Paused       time.Duration `json:"-"`
	RunningSince *time.Time    `json:"-"`
	PausedSince  *time.Time    `json:"-"`
}

// NewMatchState builds the initial state for a fixture.
func NewMatchState(f Fixture, now time.Time) *MatchState {
	duration := f.PeriodDuration
	if duration <= 0 {
		duration = DefaultPeriodDuration
	}
	return &MatchState{
		MatchID:        f.MatchID,
		HomeTeamID:     f.HomeTeamID,
		AwayTeamID:     f.AwayTeamID,
		Status:         MatchStatusScheduled,
		CurrentPeriod:  PeriodFirstHalf,
		PeriodDuration: duration,
		Events:         []MatchEvent{},
		UpdatedAt:      now,
	}
}

// HasTeam reports whether teamID is one of the two participants.
func (s *MatchState) HasTeam(teamID string) bool {
	return teamID != "" && (teamID == s.HomeTeamID || teamID == s.AwayTeamID)
}

// Terminal reports whether no further mutation is allowed.
func (s *MatchState) Terminal() bool {
	return s.Status == MatchStatusCompleted
}

// Clone returns a deep copy safe to hand outside the store.
func (s *MatchState) Clone() *MatchState {
	if s == nil {
		return nil
	}
	c := *s
	c.Events = make([]MatchEvent, len(s.Events))
	copy(c.Events, s.Events)
	c.StartedAt = copyTime(s.StartedAt)
	c.CompletedAt = copyTime(s.CompletedAt)
	c.RunningSince = copyTime(s.RunningSince)
	c.PausedSince = copyTime(s.PausedSince)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
