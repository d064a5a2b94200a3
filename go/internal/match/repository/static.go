package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
	"gopkg.in/yaml.v3"
)

// FixtureSpec is the YAML form of a fixture.
type FixtureSpec struct {
	MatchID        string     `yaml:"match_id"`
	HomeTeamID     string     `yaml:"home_team_id"`
	AwayTeamID     string     `yaml:"away_team_id"`
	PeriodDuration int        `yaml:"period_duration"`
	ScheduledAt    *time.Time `yaml:"scheduled_at"`
}

func (s FixtureSpec) Fixture() models.Fixture {
	return models.Fixture{
		MatchID:        s.MatchID,
		HomeTeamID:     s.HomeTeamID,
		AwayTeamID:     s.AwayTeamID,
		PeriodDuration: s.PeriodDuration,
		ScheduledAt:    s.ScheduledAt,
	}
}

// StaticFixtures serves fixtures from memory.
type StaticFixtures struct {
	mu       sync.RWMutex
	fixtures map[string]models.Fixture
}

func NewStaticFixtures(specs []FixtureSpec) (*StaticFixtures, error) {
	s := &StaticFixtures{fixtures: make(map[string]models.Fixture, len(specs))}
	for i, spec := range specs {
		if spec.MatchID == "" || spec.HomeTeamID == "" || spec.AwayTeamID == "" {
			return nil, fmt.Errorf("fixture %d: match_id, home_team_id and away_team_id are required", i)
		}
		if spec.HomeTeamID == spec.AwayTeamID {
			return nil, fmt.Errorf("fixture %s: a team cannot play itself", spec.MatchID)
		}
		s.fixtures[spec.MatchID] = spec.Fixture()
	}
	return s, nil
}

// LoadStaticFixtures reads a YAML file with a top-level fixtures list.
func LoadStaticFixtures(path string) (*StaticFixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var file struct {
		Fixtures []FixtureSpec `yaml:"fixtures"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return NewStaticFixtures(file.Fixtures)
}

func (s *StaticFixtures) GetFixture(_ context.Context, matchID string) (*models.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fixtures[matchID]
	if !ok {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}
	return &f, nil
}

// All returns the fixtures ordered by match id.
func (s *StaticFixtures) All() []models.Fixture {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Fixture, 0, len(s.fixtures))
	for _, f := range s.fixtures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}
