package entry

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// FormData is what a client submits for one event.
type FormData struct {
	MatchID           string           `json:"matchId"`
	EventType         models.EventType `json:"eventType"`
	Minute            *int             `json:"minute"`
	TeamID            string           `json:"teamId"`
	PlayerID          string           `json:"playerId,omitempty"`
	SecondaryPlayerID string           `json:"secondaryPlayerId,omitempty"`
	Description       string           `json:"description,omitempty"`
	Details           json.RawMessage  `json:"details,omitempty"`
	CorrelationID     string           `json:"correlationId,omitempty"`
}

// Result is the outcome of validating a form. It never carries an error of its own.
type Result struct {
	IsValid bool                  `json:"isValid"`
	Errors  []matcherr.FieldError `json:"errors"`
}

func (r *Result) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, matcherr.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns the validation error for an invalid result and nil otherwise.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return matcherr.Validation("event entry is invalid", r.Errors...)
}

// StateReader gives the validator a snapshot of the match being entered.
type StateReader interface {
	Get(matchID string) (*models.MatchState, error)
}

// Validator checks event forms against the match they target.
type Validator struct {
	states StateReader
	config Config
}

func NewValidator(states StateReader, config Config) *Validator {
	return &Validator{states: states, config: config}
}

// Validate checks form and, when it is valid, returns the event it describes.
func (v *Validator) Validate(form FormData) (Result, *models.MatchEvent) {
	res := Result{Errors: []matcherr.FieldError{}}

	var st *models.MatchState
	if form.MatchID == "" {
		res.add("matchId", "is required")
	} else {
		var err error
		st, err = v.states.Get(form.MatchID)
		switch {
		case err != nil:
			res.add("matchId", "match %s not found", form.MatchID)
		case st.Terminal():
			res.add("matchId", "match is completed")
		}
	}

	if !form.EventType.Valid() {
		res.add("eventType", "unknown event type %q", form.EventType)
	}

	switch {
	case form.Minute == nil:
		res.add("minute", "is required")
	case *form.Minute < 0:
		res.add("minute", "must not be negative")
	case st != nil && *form.Minute > v.maxMinute(st):
		res.add("minute", "must not be later than minute %d", v.maxMinute(st))
	}

	switch {
	case form.TeamID == "":
		res.add("teamId", "is required")
	case st != nil && !st.HasTeam(form.TeamID):
		res.add("teamId", "is not a participant of the match")
	}

	if n := utf8.RuneCountInString(form.Description); n > v.config.MaxDescription {
		res.add("description", "must be at most %d characters", v.config.MaxDescription)
	}

	ev := models.MatchEvent{
		MatchID:           form.MatchID,
		Type:              form.EventType,
		TeamID:            form.TeamID,
		PlayerID:          form.PlayerID,
		SecondaryPlayerID: form.SecondaryPlayerID,
		Description:       form.Description,
		CorrelationID:     form.CorrelationID,
	}
	if form.Minute != nil {
		ev.Minute = *form.Minute
	}
	if form.EventType.Valid() {
		checkDetails(&res, &ev, form.Details)
	}

	res.IsValid = len(res.Errors) == 0
	if !res.IsValid {
		return res, nil
	}
	return res, &ev
}

func (v *Validator) maxMinute(st *models.MatchState) int {
	return st.CurrentMinute + st.InjuryTime + v.config.MinuteTolerance
}

// checkDetails decodes the variant for the event type, fills defaults and
// rejects values outside the variant's enums.
func checkDetails(res *Result, ev *models.MatchEvent, raw json.RawMessage) {
	details, err := models.DecodeDetails(ev.Type, raw)
	if err != nil {
		res.add("details", "%v", err)
		return
	}

	switch ev.Type {
	case models.EventTypeGoal:
		if d, ok := details.(models.GoalDetails); ok {
			if d.GoalType == "" {
				d.GoalType = models.GoalTypeOpenPlay
			}
			if !d.GoalType.Valid() {
				res.add("details.goalType", "unknown goal type %q", d.GoalType)
				return
			}
			details = d
		}

	case models.EventTypeYellowCard, models.EventTypeRedCard:
		d, _ := details.(models.CardDetails)
		if d.CardType == "" {
			d.CardType = models.CardTypeYellow
			if ev.Type == models.EventTypeRedCard {
				d.CardType = models.CardTypeRed
			}
		}
		if !cardMatchesType(ev.Type, d.CardType) {
			res.add("details.cardType", "card type %q does not match %s", d.CardType, ev.Type)
			return
		}
		details = d

	case models.EventTypeSubstitution:
		d, _ := details.(models.SubstitutionDetails)
		if d.PlayerOutID == "" {
			d.PlayerOutID = ev.PlayerID
		}
		if d.PlayerInID == "" {
			d.PlayerInID = ev.SecondaryPlayerID
		}
		if d.PlayerOutID == "" {
			res.add("details.playerOutId", "is required")
		}
		if d.PlayerInID == "" {
			res.add("details.playerInId", "is required")
		}
		if d.PlayerOutID != "" && d.PlayerOutID == d.PlayerInID {
			res.add("details.playerInId", "must differ from the player going off")
		}
		ev.PlayerID = d.PlayerOutID
		ev.SecondaryPlayerID = d.PlayerInID
		details = d

	case models.EventTypeShot, models.EventTypeSave:
		if d, ok := details.(models.ShotDetails); ok && !d.ShotType.Valid() {
			res.add("details.shotType", "unknown shot type %q", d.ShotType)
			return
		}
	}

	ev.Details = details
}

func cardMatchesType(t models.EventType, c models.CardType) bool {
	switch t {
	case models.EventTypeYellowCard:
		return c == models.CardTypeYellow || c == models.CardTypeSecondYellow
	case models.EventTypeRedCard:
		return c == models.CardTypeRed || c == models.CardTypeSecondYellow
	}
	return false
}
