package publish

import (
	"context"

	"github.com/mcdev12/pitchside/go/internal/match/events"
)

// Publisher mirrors room broadcasts to an external bus.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Close() error
}

// NoopPublisher discards everything.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *events.Envelope) error { return nil }
func (NoopPublisher) Close() error                                    { return nil }
