package events

import (
	"testing"
	"time"

	"github.com/mcdev12/pitchside/go/internal/models"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 4, 15, 0, 0, 0, time.FixedZone("BST", 3600))
	ev := models.MatchEvent{ID: "e1", Type: models.EventTypeGoal, TeamID: "home", Minute: 12,
		Details: models.GoalDetails{GoalType: models.GoalTypeHeader}}

	env, err := NewEnvelope("m1", 4, at, Broadcast{Type: MatchEvent, Data: MatchEventPayload{Event: ev, HomeScore: 1}})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if env.ID == "" || env.Seq != 4 || env.MatchID != "m1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", env.Timestamp)
	}

	payload, err := Parse(env)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p, ok := payload.(*MatchEventPayload)
	if !ok {
		t.Fatalf("payload = %T", payload)
	}
	if p.HomeScore != 1 || p.Event.Details != (models.GoalDetails{GoalType: models.GoalTypeHeader}) {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseUnknownType(t *testing.T) {
	payload, err := Parse(&Envelope{Type: "something-else", Data: []byte(`{}`)})
	if err != nil || payload != nil {
		t.Fatalf("Parse() = %v, %v", payload, err)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse(&Envelope{Type: PresenceUpdate, Data: []byte(`{"joined":"yes"}`)}); err == nil {
		t.Fatal("expected decode error")
	}
}
