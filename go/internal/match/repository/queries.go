package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const insertMatchEvent = `-- name: InsertMatchEvent :exec
INSERT INTO match_events (
  id, match_id, sequence, event_type, minute, period, team_id,
  player_id, secondary_player_id, description, details,
  correlation_id, created_by, created_at
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (id) DO NOTHING
`

type InsertMatchEventParams struct {
	ID                uuid.UUID
	MatchID           string
	Sequence          int64
	EventType         string
	Minute            int32
	Period            string
	TeamID            string
	PlayerID          sql.NullString
	SecondaryPlayerID sql.NullString
	Description       sql.NullString
	Details           pqtype.NullRawMessage
	CorrelationID     sql.NullString
	CreatedBy         sql.NullString
	CreatedAt         time.Time
}

func (q *Queries) InsertMatchEvent(ctx context.Context, arg InsertMatchEventParams) error {
	_, err := q.db.ExecContext(ctx, insertMatchEvent,
		arg.ID,
		arg.MatchID,
		arg.Sequence,
		arg.EventType,
		arg.Minute,
		arg.Period,
		arg.TeamID,
		arg.PlayerID,
		arg.SecondaryPlayerID,
		arg.Description,
		arg.Details,
		arg.CorrelationID,
		arg.CreatedBy,
		arg.CreatedAt,
	)
	return err
}

const upsertMatchScore = `-- name: UpsertMatchScore :exec
INSERT INTO match_scores (match_id, home_score, away_score, status, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (match_id) DO UPDATE
SET home_score = EXCLUDED.home_score,
    away_score = EXCLUDED.away_score,
    status     = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
`

type UpsertMatchScoreParams struct {
	MatchID   string
	HomeScore int32
	AwayScore int32
	Status    string
	UpdatedAt time.Time
}

func (q *Queries) UpsertMatchScore(ctx context.Context, arg UpsertMatchScoreParams) error {
	_, err := q.db.ExecContext(ctx, upsertMatchScore,
		arg.MatchID,
		arg.HomeScore,
		arg.AwayScore,
		arg.Status,
		arg.UpdatedAt,
	)
	return err
}
