package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/models"
)

// Control messages accepted from clients.
const (
	MsgJoinMatch           = "join-match"
	MsgLeaveMatch          = "leave-match"
	MsgStartEventEntry     = "start-event-entry"
	MsgEndEventEntry       = "end-event-entry"
	MsgGetEventEntryStatus = "get-event-entry-status"
	MsgValidateEventEntry  = "validate-event-entry"
	MsgSubmitEventEntry    = "submit-event-entry"
	MsgMatchTimerControl   = "match-timer-control"
	MsgMatchStatusChange   = "match-status-change"
	MsgChatMessage         = "chat-message"
	MsgPing                = "ping"
)

// Replies sent to the requesting connection only.
const (
	ReplyMatchState          = "match-state"
	ReplyLeftMatch           = "left-match"
	ReplyEventEntryStarted   = "event-entry-started"
	ReplyEventEntryEnded     = "event-entry-ended"
	ReplyEventEntryStatus    = "event-entry-status"
	ReplyEventEntryValidated = "event-entry-validation"
	ReplyEventEntrySubmitted = "event-entry-submitted"
	ReplyTimerControlAck     = "timer-control-ack"
	ReplyMatchStatusAck      = "match-status-ack"
	ReplyChatAck             = "chat-ack"
	ReplyPong                = "pong"
	ReplyError               = "error"
)

// Inbound is a client control frame.
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Reply answers one inbound frame.
type Reply struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Data      any         `json:"data,omitempty"`
	Error     *ErrorReply `json:"error,omitempty"`
}

type ErrorReply struct {
	Kind    matcherr.Kind         `json:"kind"`
	Message string                `json:"message"`
	Fields  []matcherr.FieldError `json:"fields,omitempty"`
}

func errorReply(requestID string, err error) Reply {
	e := matcherr.As(err)
	return Reply{
		Type:      ReplyError,
		RequestID: requestID,
		Error:     &ErrorReply{Kind: e.Kind, Message: e.Message, Fields: e.Fields},
	}
}

// JoinedData is the join-match reply.
type JoinedData struct {
	State   *models.MatchState `json:"state"`
	Member  room.Member        `json:"member"`
	Session session.Status     `json:"session"`
}

type MatchRef struct {
	MatchID string `json:"matchId"`
}

type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type TimerControlRequest struct {
	MatchID        string            `json:"matchId"`
	Action         clock.Action      `json:"action"`
	Timestamp      *time.Time        `json:"timestamp,omitempty"`
	AdditionalData clock.ControlData `json:"additionalData"`
}

type StatusChangeRequest struct {
	MatchID        string             `json:"matchId"`
	Status         models.MatchStatus `json:"status"`
	Timestamp      *time.Time         `json:"timestamp,omitempty"`
	AdditionalData struct {
		Reason string `json:"reason,omitempty"`
	} `json:"additionalData"`
}

type ChatRequest struct {
	Room      string     `json:"room"`
	Message   string     `json:"message"`
	TeamID    string     `json:"teamId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// AckData acknowledges a control that changed the match.
type AckData struct {
	MatchID        string             `json:"matchId"`
	Action         string             `json:"action,omitempty"`
	Status         models.MatchStatus `json:"status"`
	CurrentPeriod  models.Period      `json:"currentPeriod"`
	CurrentMinute  int                `json:"currentMinute"`
	IsTimerRunning bool               `json:"isTimerRunning"`
	Seq            uint64             `json:"seq"`
}

func ackFrom(action string, st *models.MatchState) AckData {
	return AckData{
		MatchID:        st.MatchID,
		Action:         action,
		Status:         st.Status,
		CurrentPeriod:  st.CurrentPeriod,
		CurrentMinute:  st.CurrentMinute,
		IsTimerRunning: st.IsTimerRunning,
		Seq:            st.Seq,
	}
}

type ChatAck struct {
	SentAt time.Time `json:"sentAt"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}
