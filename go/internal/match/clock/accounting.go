package clock

import (
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// settle moves the play time elapsed since the last settlement into the
// accumulators and recomputes the derived fields.
func settle(st *models.MatchState, now time.Time) {
	if st.IsTimerRunning && st.RunningSince != nil {
		if elapsed := now.Sub(*st.RunningSince); elapsed > 0 {
			st.Play += elapsed
			st.PeriodPlay += elapsed
		}
		st.RunningSince = timePtr(now)
	}
	refresh(st)
}

// halt settles and stops the running clock.
func halt(st *models.MatchState, now time.Time) {
	settle(st, now)
	st.IsTimerRunning = false
	st.RunningSince = nil
}

// closePause adds the open paused interval, if any, to the paused total.
func closePause(st *models.MatchState, now time.Time) {
	if st.PausedSince == nil {
		return
	}
	if d := now.Sub(*st.PausedSince); d > 0 {
		st.Paused += d
	}
	st.PausedSince = nil
}

// refresh derives the exported second counters and the current minute. The
// minute only moves forward within a period.
func refresh(st *models.MatchState) {
	st.TotalPlayTime = int64(st.Play / time.Second)
	st.PeriodPlayTime = int64(st.PeriodPlay / time.Second)
	st.PausedTime = int64(st.Paused / time.Second)
	if minute := int(st.PeriodPlay / time.Minute); minute > st.CurrentMinute {
		st.CurrentMinute = minute
	}
}

func timerUpdate(action Action, st *models.MatchState) events.Broadcast {
	return events.Broadcast{Type: events.TimerUpdate, Data: events.TimerUpdateFrom(string(action), st)}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
