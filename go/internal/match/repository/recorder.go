package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/mcdev12/pitchside/go/internal/sqlutil"
)

// EventRecorder persists accepted events and the score they leave behind.
type EventRecorder struct {
	db *sql.DB
}

func NewEventRecorder(db *sql.DB) *EventRecorder {
	return &EventRecorder{db: db}
}

// RecordEvent inserts ev and upserts the score of st in one transaction.
// Recording the same event twice is a no-op for the event row.
func (r *EventRecorder) RecordEvent(ctx context.Context, st *models.MatchState, ev models.MatchEvent) error {
	eventParams, err := insertEventParams(ev)
	if err != nil {
		return err
	}
	scoreParams := upsertScoreParams(st)

	err = sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *Queries { return New(tx) }, func(q *Queries) error {
		if err := q.InsertMatchEvent(ctx, eventParams); err != nil {
			return fmt.Errorf("insert match event: %w", err)
		}
		if err := q.UpsertMatchScore(ctx, scoreParams); err != nil {
			return fmt.Errorf("upsert match score: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	return nil
}

func insertEventParams(ev models.MatchEvent) (InsertMatchEventParams, error) {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return InsertMatchEventParams{}, fmt.Errorf("invalid event id %q: %w", ev.ID, err)
	}

	var details json.RawMessage
	if ev.Details != nil {
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return InsertMatchEventParams{}, fmt.Errorf("marshal event details: %w", err)
		}
	}

	return InsertMatchEventParams{
		ID:                id,
		MatchID:           ev.MatchID,
		Sequence:          int64(ev.Sequence),
		EventType:         string(ev.Type),
		Minute:            int32(ev.Minute),
		Period:            string(ev.Period),
		TeamID:            ev.TeamID,
		PlayerID:          sqlutil.ToSqlString(ev.PlayerID),
		SecondaryPlayerID: sqlutil.ToSqlString(ev.SecondaryPlayerID),
		Description:       sqlutil.ToSqlString(ev.Description),
		Details:           sqlutil.ToNullRawMessage(details),
		CorrelationID:     sqlutil.ToSqlString(ev.CorrelationID),
		CreatedBy:         sqlutil.ToSqlString(ev.CreatedBy),
		CreatedAt:         ev.CreatedAt,
	}, nil
}

func upsertScoreParams(st *models.MatchState) UpsertMatchScoreParams {
	return UpsertMatchScoreParams{
		MatchID:   st.MatchID,
		HomeScore: int32(st.HomeScore),
		AwayScore: int32(st.AwayScore),
		Status:    string(st.Status),
		UpdatedAt: st.UpdatedAt,
	}
}
