package publish

import (
	"testing"

	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/nats-io/nats.go/jetstream"
)

func TestJetStreamSubjectsFallUnderStream(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	sc := cfg.StreamConfig()

	if sc.Name != "MATCH_EVENTS" || len(sc.Subjects) != 1 || sc.Subjects[0] != "match.events.>" {
		t.Fatalf("unexpected stream config %+v", sc)
	}
	if sc.Retention != jetstream.LimitsPolicy || sc.Duplicates != cfg.DuplicateWindow {
		t.Fatalf("retention/dedupe not carried: %+v", sc)
	}

	env := &events.Envelope{MatchID: "m1", Type: events.MatchEvent}
	if got, want := cfg.Subject(env), "match.events.m1."+events.MatchEvent; got != want {
		t.Fatalf("Subject() = %q, want %q", got, want)
	}
}
