package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// FixtureRepository reads match fixtures from the matches table.
type FixtureRepository struct {
	pool *pgxpool.Pool
}

func NewFixtureRepository(pool *pgxpool.Pool) *FixtureRepository {
	return &FixtureRepository{pool: pool}
}

const getFixture = `
SELECT id, home_team_id, away_team_id, period_duration, scheduled_at
FROM matches
WHERE id = $1
`

func (r *FixtureRepository) GetFixture(ctx context.Context, matchID string) (*models.Fixture, error) {
	var (
		f           models.Fixture
		duration    int32
		scheduledAt *time.Time
	)
	err := r.pool.QueryRow(ctx, getFixture, matchID).Scan(
		&f.MatchID, &f.HomeTeamID, &f.AwayTeamID, &duration, &scheduledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, matcherr.NotFound("match %s not found", matchID)
		}
		return nil, fmt.Errorf("failed to get fixture %s: %w", matchID, err)
	}
	f.PeriodDuration = int(duration)
	f.ScheduledAt = scheduledAt
	return &f, nil
}

const upsertFixture = `
INSERT INTO matches (id, home_team_id, away_team_id, period_duration, scheduled_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`

// InsertFixture adds f unless a match with the same id exists. It reports
// whether a row was inserted.
func (r *FixtureRepository) InsertFixture(ctx context.Context, f models.Fixture) (bool, error) {
	duration := f.PeriodDuration
	if duration <= 0 {
		duration = models.DefaultPeriodDuration
	}
	tag, err := r.pool.Exec(ctx, upsertFixture, f.MatchID, f.HomeTeamID, f.AwayTeamID, duration, f.ScheduledAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert fixture %s: %w", f.MatchID, err)
	}
	return tag.RowsAffected() == 1, nil
}
