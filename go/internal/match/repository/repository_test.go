package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
)

func TestLoadStaticFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	yml := `
fixtures:
  - match_id: m1
    home_team_id: lions
    away_team_id: tigers
    period_duration: 40
    scheduled_at: 2026-05-01T15:00:00Z
  - match_id: m2
    home_team_id: bears
    away_team_id: wolves
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	fixtures, err := LoadStaticFixtures(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	f, err := fixtures.GetFixture(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get m1: %v", err)
	}
	if f.HomeTeamID != "lions" || f.PeriodDuration != 40 || f.ScheduledAt == nil {
		t.Fatalf("unexpected fixture %+v", f)
	}
	if len(fixtures.All()) != 2 || fixtures.All()[1].MatchID != "m2" {
		t.Fatalf("unexpected fixtures %+v", fixtures.All())
	}

	if _, err := fixtures.GetFixture(context.Background(), "m3"); !errors.Is(err, matcherr.ErrNotFound) {
		t.Fatalf("unknown fixture should be not found, got %v", err)
	}
}

func TestStaticFixturesRejectBadSpecs(t *testing.T) {
	if _, err := NewStaticFixtures([]FixtureSpec{{MatchID: "m1", HomeTeamID: "a"}}); err == nil {
		t.Fatalf("missing away team should fail")
	}
	if _, err := NewStaticFixtures([]FixtureSpec{{MatchID: "m1", HomeTeamID: "a", AwayTeamID: "a"}}); err == nil {
		t.Fatalf("same team twice should fail")
	}
}

func TestInsertEventParams(t *testing.T) {
	at := time.Date(2026, 5, 1, 15, 12, 0, 0, time.UTC)
	ev := models.MatchEvent{
		ID:        "0190f6a4-8c4e-7c3a-9d5e-2b1f0a9c8d7e",
		MatchID:   "m1",
		Sequence:  3,
		Type:      models.EventTypeYellowCard,
		Minute:    12,
		Period:    models.PeriodFirstHalf,
		TeamID:    "lions",
		PlayerID:  "p9",
		Details:   models.CardDetails{CardType: models.CardTypeYellow, Reason: "dissent"},
		CreatedAt: at,
	}

	p, err := insertEventParams(ev)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.ID.String() != ev.ID || p.Sequence != 3 || p.Minute != 12 || p.EventType != "yellow_card" {
		t.Fatalf("unexpected params %+v", p)
	}
	if !p.PlayerID.Valid || p.SecondaryPlayerID.Valid || p.Description.Valid {
		t.Fatalf("optional columns mapped wrong: %+v", p)
	}
	var details models.CardDetails
	if !p.Details.Valid || json.Unmarshal(p.Details.RawMessage, &details) != nil || details.Reason != "dissent" {
		t.Fatalf("details not stored as JSON: %s", p.Details.RawMessage)
	}

	ev.Details = nil
	if p, _ := insertEventParams(ev); p.Details.Valid {
		t.Fatalf("nil details should be NULL")
	}

	ev.ID = "not-a-uuid"
	if _, err := insertEventParams(ev); err == nil {
		t.Fatalf("invalid id should fail")
	}
}

func TestUpsertScoreParams(t *testing.T) {
	st := &models.MatchState{MatchID: "m1", HomeScore: 2, AwayScore: 1, Status: models.MatchStatusInProgress}
	p := upsertScoreParams(st)
	if p.MatchID != "m1" || p.HomeScore != 2 || p.AwayScore != 1 || p.Status != "in_progress" {
		t.Fatalf("unexpected params %+v", p)
	}
}
