package gateway

import (
	"sort"

	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// StateProvider is the read side of the match core served over HTTP and RPC.
type StateProvider interface {
	MatchState(matchID string) (*models.MatchState, error)
	ActiveMatches() []MatchSummary
	SessionStatus(matchID string) session.Status
	ActiveSessions() []session.Session
	RoomStats(matchID string) room.Stats
}

// MatchSummary is one live match in a listing.
type MatchSummary struct {
	MatchID        string             `json:"matchId"`
	Status         models.MatchStatus `json:"status"`
	CurrentPeriod  models.Period      `json:"currentPeriod"`
	CurrentMinute  int                `json:"currentMinute"`
	IsTimerRunning bool               `json:"isTimerRunning"`
	HomeTeamID     string             `json:"homeTeamId"`
	AwayTeamID     string             `json:"awayTeamId"`
	HomeScore      int                `json:"homeScore"`
	AwayScore      int                `json:"awayScore"`
	Seq            uint64             `json:"seq"`
	Members        int                `json:"members"`
}

// LiveStateProvider reads straight from the in-memory components.
type LiveStateProvider struct {
	store    *state.Store
	sessions *session.Manager
	rooms    *room.Coordinator
}

func NewStateProvider(store *state.Store, sessions *session.Manager, rooms *room.Coordinator) *LiveStateProvider {
	return &LiveStateProvider{store: store, sessions: sessions, rooms: rooms}
}

func (p *LiveStateProvider) MatchState(matchID string) (*models.MatchState, error) {
	return p.store.Get(matchID)
}

// ActiveMatches lists the matches held in memory, ordered by id.
func (p *LiveStateProvider) ActiveMatches() []MatchSummary {
	ids := p.store.MatchIDs()
	sort.Strings(ids)

	out := make([]MatchSummary, 0, len(ids))
	for _, id := range ids {
		st, err := p.store.Get(id)
		if err != nil {
			// removed since the listing was taken
			continue
		}
		out = append(out, MatchSummary{
			MatchID:        st.MatchID,
			Status:         st.Status,
			CurrentPeriod:  st.CurrentPeriod,
			CurrentMinute:  st.CurrentMinute,
			IsTimerRunning: st.IsTimerRunning,
			HomeTeamID:     st.HomeTeamID,
			AwayTeamID:     st.AwayTeamID,
			HomeScore:      st.HomeScore,
			AwayScore:      st.AwayScore,
			Seq:            st.Seq,
			Members:        p.rooms.Stats(id).Members,
		})
	}
	return out
}

func (p *LiveStateProvider) SessionStatus(matchID string) session.Status {
	return p.sessions.Status(matchID)
}

// ActiveSessions lists the open entry sessions, ordered by match.
func (p *LiveStateProvider) ActiveSessions() []session.Session {
	out := p.sessions.Active()
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (p *LiveStateProvider) RoomStats(matchID string) room.Stats {
	return p.rooms.Stats(matchID)
}
