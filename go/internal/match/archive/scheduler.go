package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// ArchiveAfter is how long a completed match stays in memory.
	ArchiveAfter time.Duration
	RetryAfter   time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ArchiveAfter: 30 * time.Minute,
		RetryAfter:   time.Minute,
		MaxAttempts:  3,
		Timeout:      10 * time.Second,
	}
}

// States is the store view the scheduler needs.
type States interface {
	Get(matchID string) (*models.MatchState, error)
	Remove(matchID string)
}

type Rooms interface {
	Close(matchID string, b events.Broadcast) int
}

type Sessions interface {
	EndForMatch(matchID string)
}

type Timers interface {
	Forget(matchID string)
}

// Scheduler evicts completed matches after a delay, archiving their final
// state first.
type Scheduler struct {
	archiver Archiver
	states   States
	rooms    Rooms
	sessions Sessions
	timers   Timers
	clock    clockwork.Clock
	config   Config

	mu      sync.Mutex
	pending map[string]clockwork.Timer
}

func NewScheduler(archiver Archiver, states States, rooms Rooms, sessions Sessions, timers Timers, clock clockwork.Clock, cfg Config) *Scheduler {
	if archiver == nil {
		archiver = NoopArchiver{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		archiver: archiver,
		states:   states,
		rooms:    rooms,
		sessions: sessions,
		timers:   timers,
		clock:    clock,
		config:   cfg,
		pending:  make(map[string]clockwork.Timer),
	}
}

// Schedule arms the archival of matchID. Scheduling an already pending match
// keeps the original deadline.
func (s *Scheduler) Schedule(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[matchID]; ok {
		return
	}
	s.arm(matchID, s.config.ArchiveAfter, 1)

	log.Info().
		Str("match_id", matchID).
		Dur("archive_after", s.config.ArchiveAfter).
		Msg("match archival scheduled")
}

func (s *Scheduler) arm(matchID string, after time.Duration, attempt int) {
	s.pending[matchID] = s.clock.AfterFunc(after, func() { s.fire(matchID, attempt) })
}

// Cancel drops a pending archival.
func (s *Scheduler) Cancel(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[matchID]
	if ok {
		t.Stop()
		delete(s.pending, matchID)
	}
	return ok
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending archival.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

func (s *Scheduler) fire(matchID string, attempt int) {
	st, err := s.states.Get(matchID)
	if err != nil {
		if !errors.Is(err, matcherr.ErrNotFound) {
			log.Error().Err(err).Str("match_id", matchID).Msg("failed to read match for archival")
		}
		s.done(matchID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	err = s.archiver.Archive(ctx, st)
	cancel()
	if err != nil {
		if attempt < s.config.MaxAttempts {
			log.Warn().
				Err(err).
				Str("match_id", matchID).
				Int("attempt", attempt).
				Msg("match archival failed, retrying")
			s.mu.Lock()
			if _, ok := s.pending[matchID]; ok {
				s.arm(matchID, s.config.RetryAfter, attempt+1)
			}
			s.mu.Unlock()
			return
		}
		log.Error().
			Err(err).
			Str("match_id", matchID).
			Int("attempts", attempt).
			Msg("match archival failed, evicting without archive")
	}

	s.evict(st)
	s.done(matchID)
}

func (s *Scheduler) evict(st *models.MatchState) {
	members := s.rooms.Close(st.MatchID, events.Broadcast{
		Type: events.MatchArchived,
		Data: events.ArchivedPayload{
			ArchivedAt: s.clock.Now(),
			HomeScore:  st.HomeScore,
			AwayScore:  st.AwayScore,
		},
	})
	s.sessions.EndForMatch(st.MatchID)
	s.timers.Forget(st.MatchID)
	s.states.Remove(st.MatchID)

	log.Info().
		Str("match_id", st.MatchID).
		Int("members_dropped", members).
		Msg("match evicted")
}

func (s *Scheduler) done(matchID string) {
	s.mu.Lock()
	delete(s.pending, matchID)
	s.mu.Unlock()
}
