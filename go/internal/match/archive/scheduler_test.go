package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
)

type fakeWorld struct {
	mu       sync.Mutex
	states   map[string]*models.MatchState
	closed   []events.Broadcast
	ended    []string
	forgot   []string
	archived []string
	failures int
}

func newWorld() *fakeWorld {
	return &fakeWorld{states: map[string]*models.MatchState{
		"m1": {MatchID: "m1", Status: models.MatchStatusCompleted, HomeScore: 2, AwayScore: 1},
	}}
}

func (w *fakeWorld) Get(matchID string) (*models.MatchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[matchID]
	if !ok {
		return nil, matcherr.NotFound("match %s not found", matchID)
	}
	return st.Clone(), nil
}

func (w *fakeWorld) Remove(matchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.states, matchID)
}

func (w *fakeWorld) Close(_ string, b events.Broadcast) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = append(w.closed, b)
	return 3
}

func (w *fakeWorld) EndForMatch(matchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ended = append(w.ended, matchID)
}

func (w *fakeWorld) Forget(matchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forgot = append(w.forgot, matchID)
}

func (w *fakeWorld) Archive(_ context.Context, st *models.MatchState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.archived = append(w.archived, st.MatchID)
	if w.failures > 0 {
		w.failures--
		return errors.New("bucket unavailable")
	}
	return nil
}

func (w *fakeWorld) present(matchID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.states[matchID]
	return ok
}

func (w *fakeWorld) attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.archived)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func newScheduler(w *fakeWorld, fc *clockwork.FakeClock) *Scheduler {
	return NewScheduler(w, w, w, w, w, fc, DefaultConfig())
}

func TestArchivesAndEvictsAfterDelay(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := newWorld()
	s := newScheduler(w, fc)

	s.Schedule("m1")
	s.Schedule("m1")
	if s.Pending() != 1 {
		t.Fatalf("rescheduling should keep one pending archival")
	}

	fc.Advance(29 * time.Minute)
	if w.attempts() != 0 {
		t.Fatalf("archived before the delay elapsed")
	}

	fc.Advance(time.Minute)
	waitFor(t, func() bool { return !w.present("m1") })
	waitFor(t, func() bool { return s.Pending() == 0 })

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.closed) != 1 || w.closed[0].Type != events.MatchArchived {
		t.Fatalf("room should be closed with match-archived, got %+v", w.closed)
	}
	if p, ok := w.closed[0].Data.(events.ArchivedPayload); !ok || p.HomeScore != 2 || p.AwayScore != 1 {
		t.Fatalf("unexpected archived payload %+v", w.closed[0].Data)
	}
	if len(w.ended) != 1 || len(w.forgot) != 1 {
		t.Fatalf("sessions and timers should be released: ended=%v forgot=%v", w.ended, w.forgot)
	}
}

func TestArchiveRetriesThenEvicts(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := newWorld()
	w.failures = 1
	s := newScheduler(w, fc)

	s.Schedule("m1")
	fc.Advance(30 * time.Minute)
	waitFor(t, func() bool { return w.attempts() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("retry was not armed: %v", err)
	}
	if !w.present("m1") {
		t.Fatalf("failed archival must not evict before retrying")
	}

	fc.Advance(time.Minute)
	waitFor(t, func() bool { return !w.present("m1") })
	if w.attempts() != 2 {
		t.Fatalf("expected 2 archive attempts, got %d", w.attempts())
	}
}

func TestCancelKeepsMatch(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := newWorld()
	s := newScheduler(w, fc)

	s.Schedule("m1")
	if !s.Cancel("m1") {
		t.Fatalf("cancel should report a pending archival")
	}
	fc.Advance(time.Hour)

	if w.attempts() != 0 || !w.present("m1") {
		t.Fatalf("cancelled archival still ran")
	}
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	p.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiverWritesFinalState(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(putter, "archive-bucket", "")

	st := &models.MatchState{MatchID: "m1", HomeScore: 1, Events: []models.MatchEvent{}}
	if err := a.Archive(context.Background(), st); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if *putter.input.Bucket != "archive-bucket" || *putter.input.Key != "matches/m1/final.json" {
		t.Fatalf("unexpected location %s/%s", *putter.input.Bucket, *putter.input.Key)
	}
	var got models.MatchState
	if err := json.Unmarshal(putter.body, &got); err != nil {
		t.Fatalf("body is not a match state: %v", err)
	}
	if got.MatchID != "m1" || got.HomeScore != 1 {
		t.Fatalf("unexpected archived state %+v", got)
	}
}
