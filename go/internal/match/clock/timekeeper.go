package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Action is a referee timer control.
type Action string

const (
	ActionStart             Action = "start"
	ActionPause             Action = "pause"
	ActionResume            Action = "resume"
	ActionStop              Action = "stop"
	ActionAddInjuryTime     Action = "add_injury_time"
	ActionEndInjuryTime     Action = "end_injury_time"
	ActionSetPeriodDuration Action = "set_period_duration"
	ActionSkipToPeriod      Action = "skip_to_period"

	actionTick     = "tick"
	actionComplete = "complete"
)

// ControlData carries the arguments of the actions that take one.
type ControlData struct {
	Minutes int           `json:"minutes,omitempty"`
	Period  models.Period `json:"period,omitempty"`
}

type Config struct {
	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
	}
}

// Timekeeper runs the clock of every live match. Clock fields live on the
// MatchState and change only through the state store; the Timekeeper owns one
// ticker goroutine per running match.
type Timekeeper struct {
	store  *state.Store
	clock  clockwork.Clock
	config Config

	mu        sync.Mutex
	tickers   map[string]chan struct{}
	suggested map[string]suggestion
}

type suggestion struct {
	period    models.Period
	threshold int
}

func NewTimekeeper(store *state.Store, clock clockwork.Clock, config Config) *Timekeeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	return &Timekeeper{
		store:     store,
		clock:     clock,
		config:    config,
		tickers:   make(map[string]chan struct{}),
		suggested: make(map[string]suggestion),
	}
}

// Control dispatches a timer control action.
func (k *Timekeeper) Control(matchID string, action Action, data ControlData) (*models.MatchState, error) {
	switch action {
	case ActionStart:
		return k.Start(matchID)
	case ActionPause:
		return k.Pause(matchID)
	case ActionResume:
		return k.Resume(matchID)
	case ActionStop:
		return k.Stop(matchID)
	case ActionAddInjuryTime:
		return k.AddInjuryTime(matchID, data.Minutes)
	case ActionEndInjuryTime:
		return k.EndInjuryTime(matchID)
	case ActionSetPeriodDuration:
		return k.SetPeriodDuration(matchID, data.Minutes)
	case ActionSkipToPeriod:
		return k.SkipToPeriod(matchID, data.Period)
	default:
		return nil, matcherr.Validation("unknown timer action",
			matcherr.FieldError{Field: "action", Message: "unknown action " + string(action)})
	}
}

// Start kicks off a scheduled match or restarts a paused one.
func (k *Timekeeper) Start(matchID string) (*models.MatchState, error) {
	return k.store.ChangeStatus(matchID, models.MatchStatusInProgress, string(ActionStart), k.run(matchID, ActionStart))
}

// Resume restarts the clock of a paused match.
func (k *Timekeeper) Resume(matchID string) (*models.MatchState, error) {
	hook := k.run(matchID, ActionResume)
	return k.store.ChangeStatus(matchID, models.MatchStatusInProgress, string(ActionResume),
		func(st *models.MatchState, from models.MatchStatus, now time.Time) ([]events.Broadcast, error) {
			if from != models.MatchStatusPaused {
				return nil, matcherr.Conflict("cannot resume a %s match", from)
			}
			return hook(st, from, now)
		})
}

func (k *Timekeeper) run(matchID string, action Action) state.StatusHook {
	return func(st *models.MatchState, from models.MatchStatus, now time.Time) ([]events.Broadcast, error) {
		if !st.CurrentPeriod.Clocked() {
			return nil, matcherr.Conflict("the clock does not run during %s", st.CurrentPeriod)
		}
		closePause(st, now)
		st.IsTimerRunning = true
		st.RunningSince = timePtr(now)
		refresh(st)
		k.startTicking(matchID)
		return []events.Broadcast{timerUpdate(action, st)}, nil
	}
}

// Pause halts a running clock and starts counting paused time.
func (k *Timekeeper) Pause(matchID string) (*models.MatchState, error) {
	return k.store.ChangeStatus(matchID, models.MatchStatusPaused, string(ActionPause),
		func(st *models.MatchState, _ models.MatchStatus, now time.Time) ([]events.Broadcast, error) {
			halt(st, now)
			st.PausedSince = timePtr(now)
			k.stopTicking(matchID)
			return []events.Broadcast{timerUpdate(ActionPause, st)}, nil
		})
}

// Stop halts the clock from any non-terminal state. Unlike Pause the stopped
// interval is not counted as paused time, and the minute is kept.
func (k *Timekeeper) Stop(matchID string) (*models.MatchState, error) {
	return k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		var out []events.Broadcast
		switch st.Status {
		case models.MatchStatusScheduled:
			return nil, state.ErrNoChange
		case models.MatchStatusInProgress:
			change, err := state.SetStatus(st, models.MatchStatusPaused, string(ActionStop), now)
			if err != nil {
				return nil, err
			}
			out = append(out, change)
			halt(st, now)
		case models.MatchStatusPaused:
			closePause(st, now)
			refresh(st)
		}
		k.stopTicking(matchID)
		return append(out, timerUpdate(ActionStop, st)), nil
	})
}

// Complete ends the match. The clock is settled and halted in the same step.
func (k *Timekeeper) Complete(matchID, reason string) (*models.MatchState, error) {
	return k.store.ChangeStatus(matchID, models.MatchStatusCompleted, reason,
		func(st *models.MatchState, _ models.MatchStatus, now time.Time) ([]events.Broadcast, error) {
			halt(st, now)
			closePause(st, now)
			refresh(st)
			k.Forget(matchID)
			return []events.Broadcast{timerUpdate(actionComplete, st)}, nil
		})
}

// SetStatus maps a requested status onto the clock operation that reaches it.
func (k *Timekeeper) SetStatus(matchID string, to models.MatchStatus, reason string) (*models.MatchState, error) {
	switch to {
	case models.MatchStatusInProgress:
		return k.Start(matchID)
	case models.MatchStatusPaused:
		return k.Pause(matchID)
	case models.MatchStatusCompleted:
		return k.Complete(matchID, reason)
	default:
		return k.store.ChangeStatus(matchID, to, reason, nil)
	}
}

func (k *Timekeeper) AddInjuryTime(matchID string, minutes int) (*models.MatchState, error) {
	if minutes <= 0 {
		return nil, matcherr.Validation("injury time must be positive",
			matcherr.FieldError{Field: "minutes", Message: "must be greater than 0"})
	}
	return k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		settle(st, now)
		st.InjuryTime += minutes
		return []events.Broadcast{timerUpdate(ActionAddInjuryTime, st)}, nil
	})
}

// EndInjuryTime clears the injury allowance. Recorded event minutes are untouched.
func (k *Timekeeper) EndInjuryTime(matchID string) (*models.MatchState, error) {
	return k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		if st.InjuryTime == 0 {
			return nil, state.ErrNoChange
		}
		settle(st, now)
		st.InjuryTime = 0
		return []events.Broadcast{timerUpdate(ActionEndInjuryTime, st)}, nil
	})
}

// SetPeriodDuration changes the nominal period length used for the period end
// suggestion. It never forces a transition.
func (k *Timekeeper) SetPeriodDuration(matchID string, minutes int) (*models.MatchState, error) {
	if minutes <= 0 {
		return nil, matcherr.Validation("period duration must be positive",
			matcherr.FieldError{Field: "minutes", Message: "must be greater than 0"})
	}
	return k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		settle(st, now)
		st.PeriodDuration = minutes
		return []events.Broadcast{timerUpdate(ActionSetPeriodDuration, st)}, nil
	})
}

var periodOrder = map[models.Period]int{
	models.PeriodFirstHalf:  0,
	models.PeriodHalftime:   1,
	models.PeriodSecondHalf: 2,
	models.PeriodExtraTime:  3,
	models.PeriodPenalties:  4,
}

// SkipToPeriod moves the match forward to period. Entering a playing period
// resets the minute and keeps the timer running or paused as it was; entering
// halftime or penalties pauses the clock with the minute frozen.
func (k *Timekeeper) SkipToPeriod(matchID string, period models.Period) (*models.MatchState, error) {
	if !period.Valid() || period == models.PeriodFirstHalf {
		return nil, matcherr.Validation("invalid target period",
			matcherr.FieldError{Field: "period", Message: "must be one of halftime, second_half, extra_time, penalties"})
	}

	return k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		if st.Status == models.MatchStatusScheduled {
			return nil, matcherr.Conflict("match %s has not started", matchID)
		}
		if periodOrder[period] <= periodOrder[st.CurrentPeriod] {
			return nil, matcherr.Conflict("cannot move from %s to %s", st.CurrentPeriod, period)
		}

		settle(st, now)
		previous := st.CurrentPeriod
		st.CurrentPeriod = period

		var out []events.Broadcast
		if period.Clocked() {
			st.PeriodPlay = 0
			st.CurrentMinute = 0
			st.InjuryTime = 0
			refresh(st)
		} else if st.IsTimerRunning {
			change, err := state.SetStatus(st, models.MatchStatusPaused, string(period), now)
			if err != nil {
				return nil, err
			}
			out = append(out, change)
			halt(st, now)
			st.PausedSince = timePtr(now)
			k.stopTicking(matchID)
		}

		log.Info().
			Str("match_id", matchID).
			Str("from", string(previous)).
			Str("to", string(period)).
			Msg("period transition")

		return append(out,
			events.Broadcast{Type: events.PeriodTransition, Data: events.PeriodTransitionPayload{
				PreviousPeriod: previous,
				NewPeriod:      period,
				CurrentMinute:  st.CurrentMinute,
				IsTimerRunning: st.IsTimerRunning,
			}},
			timerUpdate(ActionSkipToPeriod, st),
		), nil
	})
}

// tick settles the running clock of matchID and reports whether it should keep ticking.
func (k *Timekeeper) tick(matchID string) bool {
	_, err := k.store.Mutate(matchID, func(st *models.MatchState, now time.Time) ([]events.Broadcast, error) {
		if !st.IsTimerRunning {
			return nil, state.ErrNoChange
		}
		settle(st, now)
		out := []events.Broadcast{timerUpdate(actionTick, st)}
		if n, ok := k.suggestPeriodEnd(matchID, st); ok {
			out = append(out, n)
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, matcherr.ErrNotFound) || errors.Is(err, matcherr.ErrStateConflict) {
			return false
		}
		log.Error().Err(err).Str("match_id", matchID).Msg("clock tick failed")
	}
	return true
}

// suggestPeriodEnd emits one notification per period and threshold once the
// minute reaches the period duration plus injury time.
func (k *Timekeeper) suggestPeriodEnd(matchID string, st *models.MatchState) (events.Broadcast, bool) {
	threshold := st.PeriodDuration + st.InjuryTime
	if st.CurrentMinute < threshold {
		return events.Broadcast{}, false
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	key := suggestion{period: st.CurrentPeriod, threshold: threshold}
	if k.suggested[matchID] == key {
		return events.Broadcast{}, false
	}
	k.suggested[matchID] = key

	return events.Broadcast{Type: events.Notification, Data: events.NotificationPayload{
		Kind:    events.NotifyPeriodEndSuggested,
		Message: "period time is up",
		Minute:  st.CurrentMinute,
	}}, true
}

func (k *Timekeeper) startTicking(matchID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, running := k.tickers[matchID]; running {
		return
	}
	stop := make(chan struct{})
	k.tickers[matchID] = stop
	ticker := k.clock.NewTicker(k.config.TickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				if !k.tick(matchID) {
					k.release(matchID, stop)
					return
				}
			}
		}
	}()

	log.Debug().Str("match_id", matchID).Dur("interval", k.config.TickInterval).Msg("clock ticking")
}

// stopTicking never waits for the goroutine: a tick may be blocked on the store.
func (k *Timekeeper) stopTicking(matchID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if stop, running := k.tickers[matchID]; running {
		close(stop)
		delete(k.tickers, matchID)
	}
}

func (k *Timekeeper) release(matchID string, stop chan struct{}) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tickers[matchID] == stop {
		close(stop)
		delete(k.tickers, matchID)
	}
}

// Forget releases everything the Timekeeper holds for matchID.
func (k *Timekeeper) Forget(matchID string) {
	k.stopTicking(matchID)
	k.mu.Lock()
	delete(k.suggested, matchID)
	k.mu.Unlock()
}

// Running reports the number of ticking matches.
func (k *Timekeeper) Running() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tickers)
}

// Shutdown stops every ticker.
func (k *Timekeeper) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, stop := range k.tickers {
		close(stop)
		delete(k.tickers, id)
	}
}
