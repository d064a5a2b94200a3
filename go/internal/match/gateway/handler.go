package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/entry"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ArchiveScheduler arms the eviction of completed matches.
type ArchiveScheduler interface {
	Schedule(matchID string)
}

type HandlerConfig struct {
	// RequestTimeout bounds the work done for one inbound frame, fixture lookups included.
	RequestTimeout time.Duration
	MaxChatLength  int
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		RequestTimeout: 5 * time.Second,
		MaxChatLength:  1000,
	}
}

// Handler dispatches control messages to the match components.
type Handler struct {
	rooms     *room.Coordinator
	sessions  *session.Manager
	keeper    *clock.Timekeeper
	submitter *entry.Submitter
	archive   ArchiveScheduler
	clock     clockwork.Clock
	config    HandlerConfig
}

func NewHandler(core Core, clk clockwork.Clock, config HandlerConfig) *Handler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultHandlerConfig().RequestTimeout
	}
	h := &Handler{
		rooms:     core.Rooms,
		sessions:  core.Sessions,
		keeper:    core.Keeper,
		submitter: core.Submitter,
		archive:   core.Archive,
		clock:     clk,
		config:    config,
	}
	core.Sessions.OnEnd(h.sessionEnded)
	return h
}

func (h *Handler) HandleMessage(c *Connection, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.reply(c, errorReply("", matcherr.Validation("malformed frame",
			matcherr.FieldError{Field: "frame", Message: err.Error()})))
		return
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.config.RequestTimeout)
	defer cancel()

	if err := h.dispatch(ctx, c, in); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID()).
			Str("message_type", in.Type).
			Str("error_kind", string(matcherr.KindOf(err))).
			Msg("control message failed")
		h.reply(c, errorReply(in.RequestID, err))
	}
}

// Disconnected ends everything the connection held.
func (h *Handler) Disconnected(c *Connection) {
	h.rooms.Disconnect(c.ID())
}

func (h *Handler) dispatch(ctx context.Context, c *Connection, in Inbound) error {
	switch in.Type {
	case MsgJoinMatch:
		return h.join(ctx, c, in)
	case MsgLeaveMatch:
		return h.leave(c, in)
	case MsgStartEventEntry:
		return h.startEntry(c, in)
	case MsgEndEventEntry:
		return h.endEntry(c, in)
	case MsgGetEventEntryStatus:
		return h.entryStatus(c, in)
	case MsgValidateEventEntry:
		return h.validateEntry(c, in)
	case MsgSubmitEventEntry:
		return h.submitEntry(ctx, c, in)
	case MsgMatchTimerControl:
		return h.timerControl(c, in)
	case MsgMatchStatusChange:
		return h.statusChange(c, in)
	case MsgChatMessage:
		return h.chat(c, in)
	case MsgPing:
		h.reply(c, Reply{Type: ReplyPong, RequestID: in.RequestID, Data: Pong{Timestamp: h.clock.Now()}})
		return nil
	default:
		return matcherr.Validation("unknown message type",
			matcherr.FieldError{Field: "type", Message: "unknown message type " + in.Type})
	}
}

func (h *Handler) join(ctx context.Context, c *Connection, in Inbound) error {
	var req room.JoinRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	_, _, err := h.rooms.Join(ctx, c, c.Identity, req, func(st *models.MatchState, m room.Member) {
		h.reply(c, Reply{
			Type:      ReplyMatchState,
			RequestID: in.RequestID,
			Data:      JoinedData{State: st, Member: m, Session: h.sessions.Status(req.MatchID)},
		})
	})
	return err
}

func (h *Handler) leave(c *Connection, in Inbound) error {
	var ref MatchRef
	if err := decode(in, &ref); err != nil {
		return err
	}
	h.rooms.Leave(ref.MatchID, c.ID())
	h.reply(c, Reply{Type: ReplyLeftMatch, RequestID: in.RequestID, Data: ref})
	return nil
}

func (h *Handler) startEntry(c *Connection, in Inbound) error {
	var ref MatchRef
	if err := decode(in, &ref); err != nil {
		return err
	}
	member, err := h.rooms.Authorize(ref.MatchID, c.ID(), auth.CapEventEntry)
	if err != nil {
		return err
	}
	s, err := h.sessions.Start(ref.MatchID, c.ID(), member.UserID)
	if err != nil {
		return err
	}

	h.reply(c, Reply{Type: ReplyEventEntryStarted, RequestID: in.RequestID, Data: s})
	h.rooms.Notify(ref.MatchID, events.Broadcast{
		Type: events.Notification,
		Data: events.NotificationPayload{
			Kind:      events.NotifyEntryStarted,
			Message:   "event entry started by " + member.UserID,
			SessionID: s.ID,
		},
	}, nil)
	return nil
}

func (h *Handler) endEntry(c *Connection, in Inbound) error {
	var ref SessionRef
	if err := decode(in, &ref); err != nil {
		return err
	}
	if ref.SessionID == "" {
		return matcherr.Validation("sessionId is required", matcherr.FieldError{Field: "sessionId", Message: "is required"})
	}
	s, err := h.sessions.End(ref.SessionID, c.ID())
	if err != nil {
		return err
	}

	h.reply(c, Reply{Type: ReplyEventEntryEnded, RequestID: in.RequestID, Data: s})
	if s.MatchID != "" {
		h.notifyEnded(s, events.NotifyEntryEnded, "event entry ended")
	}
	return nil
}

func (h *Handler) entryStatus(c *Connection, in Inbound) error {
	var ref MatchRef
	if err := decode(in, &ref); err != nil {
		return err
	}
	if _, ok := h.rooms.Member(ref.MatchID, c.ID()); !ok {
		return matcherr.Unauthorized("connection has not joined match %s", ref.MatchID)
	}
	h.reply(c, Reply{Type: ReplyEventEntryStatus, RequestID: in.RequestID, Data: h.sessions.Status(ref.MatchID)})
	return nil
}

func (h *Handler) validateEntry(c *Connection, in Inbound) error {
	var form entry.FormData
	if err := decode(in, &form); err != nil {
		return err
	}
	res, err := h.submitter.Validate(c.ID(), form)
	if err != nil {
		return err
	}
	h.reply(c, Reply{Type: ReplyEventEntryValidated, RequestID: in.RequestID, Data: res})
	return nil
}

func (h *Handler) submitEntry(ctx context.Context, c *Connection, in Inbound) error {
	var form entry.FormData
	if err := decode(in, &form); err != nil {
		return err
	}
	receipt, err := h.submitter.Submit(ctx, c.ID(), form)
	if err != nil {
		return err
	}
	h.reply(c, Reply{Type: ReplyEventEntrySubmitted, RequestID: in.RequestID, Data: receipt})
	return nil
}

func (h *Handler) timerControl(c *Connection, in Inbound) error {
	var req TimerControlRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	member, err := h.rooms.Authorize(req.MatchID, c.ID(), auth.CapTimerControl)
	if err != nil {
		return err
	}
	st, err := h.keeper.Control(req.MatchID, req.Action, req.AdditionalData)
	if err != nil {
		return err
	}

	log.Info().
		Str("match_id", req.MatchID).
		Str("user_id", member.UserID).
		Str("action", string(req.Action)).
		Int("minute", st.CurrentMinute).
		Msg("timer control applied")

	h.reply(c, Reply{Type: ReplyTimerControlAck, RequestID: in.RequestID, Data: ackFrom(string(req.Action), st)})
	return nil
}

func (h *Handler) statusChange(c *Connection, in Inbound) error {
	var req StatusChangeRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	member, err := h.rooms.Authorize(req.MatchID, c.ID(), auth.CapStatusChange)
	if err != nil {
		return err
	}
	st, err := h.keeper.SetStatus(req.MatchID, req.Status, req.AdditionalData.Reason)
	if err != nil {
		return err
	}

	log.Info().
		Str("match_id", req.MatchID).
		Str("user_id", member.UserID).
		Str("status", string(st.Status)).
		Msg("match status changed")

	h.reply(c, Reply{Type: ReplyMatchStatusAck, RequestID: in.RequestID, Data: ackFrom("status", st)})
	h.rooms.SyncState(req.MatchID)
	if st.Terminal() && h.archive != nil {
		h.archive.Schedule(req.MatchID)
	}
	return nil
}

// chat relays a message to the room. A teamId restricts delivery to that
// team's members and referees; only referees may address a team not their own.
func (h *Handler) chat(c *Connection, in Inbound) error {
	var req ChatRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	member, err := h.rooms.Authorize(req.Room, c.ID(), auth.CapChat)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return matcherr.Validation("message is required", matcherr.FieldError{Field: "message", Message: "is required"})
	}
	if h.config.MaxChatLength > 0 && utf8.RuneCountInString(text) > h.config.MaxChatLength {
		return matcherr.Validation("message is too long", matcherr.FieldError{Field: "message", Message: "is too long"})
	}
	if req.TeamID != "" && req.TeamID != member.TeamID && member.Role != auth.RoleReferee {
		return matcherr.Unauthorized("role %s may not message team %s", member.Role, req.TeamID)
	}

	now := h.clock.Now()
	var filter func(room.Member) bool
	if req.TeamID != "" {
		filter = func(m room.Member) bool {
			return m.TeamID == req.TeamID || m.Role == auth.RoleReferee || m.ConnectionID == c.ID()
		}
	}
	h.rooms.Notify(req.Room, events.Broadcast{
		Type: events.ChatMessage,
		Data: events.ChatPayload{
			ConnectionID: c.ID(),
			UserID:       member.UserID,
			Role:         string(member.Role),
			TeamID:       req.TeamID,
			Message:      text,
			SentAt:       now,
		},
	}, filter)

	h.reply(c, Reply{Type: ReplyChatAck, RequestID: in.RequestID, Data: ChatAck{SentAt: now}})
	return nil
}

func (h *Handler) sessionEnded(s session.Session, reason session.EndReason) {
	switch reason {
	case session.EndReasonIdle:
		h.notifyEnded(s, events.NotifyEntryExpired, "event entry session expired")
	case session.EndReasonDisconnect:
		h.notifyEnded(s, events.NotifyEntryEnded, "event entry owner disconnected")
	}
}

func (h *Handler) notifyEnded(s session.Session, kind, message string) {
	h.rooms.Notify(s.MatchID, events.Broadcast{
		Type: events.Notification,
		Data: events.NotificationPayload{Kind: kind, Message: message, SessionID: s.ID},
	}, nil)
}

func (h *Handler) reply(c *Connection, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID()).Str("reply_type", r.Type).Msg("failed to marshal reply")
		return
	}
	c.Send(data)
}

func decode(in Inbound, v any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return matcherr.Validation("data is required", matcherr.FieldError{Field: "data", Message: "is required"})
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return matcherr.Validation("malformed data", matcherr.FieldError{Field: "data", Message: err.Error()})
	}
	return nil
}
