// Package client is a reconnecting Go client for the match gateway.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/gateway"
	"github.com/mcdev12/pitchside/go/internal/match/matcherr"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/rs/zerolog/log"
)

// State is the connection lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateGaveUp     State = "gave_up"
)

var (
	ErrNotConnected   = matcherr.Transport(nil, "not connected")
	ErrConnectionLost = matcherr.Transport(nil, "connection lost")
)

type Config struct {
	URL   string
	Token string

	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 never reconnects.
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffFactor        float64

	RequestTimeout     time.Duration
	HandshakeTimeout   time.Duration
	PingInterval       time.Duration
	ReadTimeout        time.Duration
	SubscriptionBuffer int
}

func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 10,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		BackoffFactor:        2.0,
		RequestTimeout:       5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         25 * time.Second,
		ReadTimeout:          60 * time.Second,
		SubscriptionBuffer:   64,
	}
}

// Frame is any server frame: a reply, an error or a room broadcast.
type Frame struct {
	ID        string              `json:"id,omitempty"`
	Type      string              `json:"type"`
	RequestID string              `json:"requestId,omitempty"`
	MatchID   string              `json:"matchId,omitempty"`
	Seq       uint64              `json:"seq,omitempty"`
	Timestamp time.Time           `json:"timestamp,omitempty"`
	Data      json.RawMessage     `json:"data,omitempty"`
	Error     *gateway.ErrorReply `json:"error,omitempty"`
}

// Err converts an error frame into a *matcherr.Error.
func (f Frame) Err() error {
	if f.Error == nil {
		return nil
	}
	return &matcherr.Error{Kind: f.Error.Kind, Message: f.Error.Message, Fields: f.Error.Fields}
}

// Subscription receives every unsolicited frame of one type.
type Subscription struct {
	C <-chan Frame

	ch      chan Frame
	msgType string
	id      uint64
	client  *Client
}

// Unsubscribe stops delivery and closes C.
func (s *Subscription) Unsubscribe() {
	s.client.unsubscribe(s)
}

type connection struct {
	ws   *websocket.Conn
	stop chan struct{}
	wmu  sync.Mutex
}

func (c *connection) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(v)
}

// Client keeps one WebSocket session to the gateway alive across drops and
// rejoins the matches it was in after each reconnect.
type Client struct {
	config Config
	dialer *websocket.Dialer
	clock  clockwork.Clock

	mu              sync.Mutex
	state           State
	conn            *connection
	shouldReconnect bool
	attempts        int
	joined          map[string]room.JoinRequest
	pending         map[string]chan Frame
	subs            map[string]map[uint64]*Subscription
	nextSub         uint64
	onState         func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(config Config, clock clockwork.Clock) *Client {
	defaults := DefaultConfig()
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.SubscriptionBuffer <= 0 {
		config.SubscriptionBuffer = defaults.SubscriptionBuffer
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		config:  config,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		clock:   clock,
		state:   StateIdle,
		joined:  make(map[string]room.JoinRequest),
		pending: make(map[string]chan Frame),
		subs:    make(map[string]map[uint64]*Subscription),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to observe lifecycle transitions. fn runs on the
// client's goroutines and must not block.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// setState must be called with c.mu held; the returned func notifies the
// observer and must be called after unlocking.
func (c *Client) setState(to State) func() {
	if c.state == to {
		return func() {}
	}
	from := c.state
	c.state = to
	fn := c.onState
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("match client state changed")
	return func() {
		if fn != nil {
			fn(to)
		}
	}
}

// Connect dials the gateway. A failed first dial is returned to the caller
// rather than retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateClosed, StateGaveUp:
	default:
		c.mu.Unlock()
		return matcherr.Conflict("client is %s", c.state)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.shouldReconnect = true
	c.attempts = 0
	notify := c.setState(StateConnecting)
	c.mu.Unlock()
	notify()

	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.shouldReconnect = false
		notify := c.setState(StateClosed)
		c.mu.Unlock()
		notify()
		c.cancel()
		return err
	}
	if !c.attach(ws) {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, matcherr.Unauthorized("gateway rejected the token")
		}
		return nil, matcherr.Transport(err, "dial gateway")
	}
	return ws, nil
}

// attach makes ws the live connection and starts its pumps.
func (c *Client) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	if !c.shouldReconnect {
		c.mu.Unlock()
		ws.Close()
		return false
	}
	conn := &connection{ws: ws, stop: make(chan struct{})}
	c.conn = conn
	c.attempts = 0
	notify := c.setState(StateOpen)
	c.wg.Add(2)
	c.mu.Unlock()
	notify()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	log.Info().Str("url", c.config.URL).Msg("connected to match gateway")
	return true
}

// Disconnect closes the connection and suppresses further reconnects.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.shouldReconnect = false
	switch c.state {
	case StateIdle, StateClosed, StateGaveUp:
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	notify := c.setState(StateClosing)
	c.failPendingLocked()
	c.mu.Unlock()
	notify()

	if conn != nil {
		conn.wmu.Lock()
		conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.wmu.Unlock()
		close(conn.stop)
		conn.ws.Close()
	}
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	notify = c.setState(StateClosed)
	c.mu.Unlock()
	notify()
	return nil
}

// Subscribe delivers every frame of msgType that is not a reply to one of
// this client's requests.
func (c *Client) Subscribe(msgType string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	ch := make(chan Frame, c.config.SubscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, msgType: msgType, id: c.nextSub, client: c}
	if c.subs[msgType] == nil {
		c.subs[msgType] = make(map[uint64]*Subscription)
	}
	c.subs[msgType][sub.id] = sub
	return sub
}

func (c *Client) unsubscribe(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s.msgType][s.id]; !ok {
		return
	}
	delete(c.subs[s.msgType], s.id)
	if len(c.subs[s.msgType]) == 0 {
		delete(c.subs, s.msgType)
	}
	close(s.ch)
}

// Send writes a control message without waiting for its reply.
func (c *Client) Send(msgType string, data any) error {
	return c.send(msgType, "", data)
}

func (c *Client) send(msgType, requestID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.write(gateway.Inbound{Type: msgType, RequestID: requestID, Data: raw}); err != nil {
		return matcherr.Transport(err, "write "+msgType)
	}
	return nil
}

// Request sends a control message and waits for the reply carrying its
// requestId. Error replies are returned as *matcherr.Error; a reply that does
// not arrive within RequestTimeout is a transport error and the caller may retry.
func (c *Client) Request(ctx context.Context, msgType string, data any) (Frame, error) {
	id := uuid.New().String()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(msgType, id, data); err != nil {
		return Frame{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	select {
	case f, ok := <-ch:
		if !ok {
			return Frame{}, ErrConnectionLost
		}
		if f.Type == gateway.ReplyError {
			return f, f.Err()
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, matcherr.Transport(ctx.Err(), msgType+" timed out")
	}
}

// JoinMatch joins a match room and remembers it for rejoining after a reconnect.
func (c *Client) JoinMatch(ctx context.Context, req room.JoinRequest) (*gateway.JoinedData, error) {
	f, err := c.Request(ctx, gateway.MsgJoinMatch, req)
	if err != nil {
		return nil, err
	}
	var joined gateway.JoinedData
	if err := json.Unmarshal(f.Data, &joined); err != nil {
		return nil, fmt.Errorf("decode join reply: %w", err)
	}

	c.mu.Lock()
	c.joined[req.MatchID] = req
	c.mu.Unlock()
	return &joined, nil
}

func (c *Client) LeaveMatch(ctx context.Context, matchID string) error {
	c.mu.Lock()
	delete(c.joined, matchID)
	c.mu.Unlock()

	_, err := c.Request(ctx, gateway.MsgLeaveMatch, gateway.MatchRef{MatchID: matchID})
	return err
}

// Joined lists the matches rejoined on reconnect.
func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

func (c *Client) readLoop(conn *connection) {
	defer c.wg.Done()

	conn.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.ws.SetPingHandler(func(appData string) error {
		conn.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		err := conn.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		var f Frame
		if err := conn.ws.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				log.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			c.dropped(conn, err)
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.RequestID != "" {
		if ch, ok := c.pending[f.RequestID]; ok {
			delete(c.pending, f.RequestID)
			ch <- f
			return
		}
	}
	c.publishLocked(f)
}

func (c *Client) publishLocked(f Frame) {
	for _, sub := range c.subs[f.Type] {
		select {
		case sub.ch <- f:
		default:
			log.Warn().
				Str("event_type", f.Type).
				Str("match_id", f.MatchID).
				Msg("subscription buffer full, frame dropped")
		}
	}
}

func (c *Client) pingLoop(conn *connection) {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.stop:
			return
		case <-ticker.Chan():
			if err := conn.write(gateway.Inbound{Type: gateway.MsgPing}); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// dropped handles the loss of conn. Losses of connections that were already
// replaced or closed on purpose are ignored.
func (c *Client) dropped(conn *connection, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(conn.stop)
	conn.ws.Close()
	c.failPendingLocked()

	if !c.shouldReconnect || c.config.MaxReconnectAttempts <= 0 {
		notify := c.setState(StateClosed)
		c.mu.Unlock()
		notify()
		log.Info().Err(cause).Msg("match gateway connection closed")
		return
	}
	notify := c.setState(StateConnecting)
	c.wg.Add(1)
	c.mu.Unlock()
	notify()

	log.Warn().Err(cause).Msg("match gateway connection lost, reconnecting")
	go c.reconnect()
}

func (c *Client) reconnect() {
	defer c.wg.Done()

	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		delay := Backoff(c.config, attempt)
		select {
		case <-c.ctx.Done():
			return
		case <-c.clock.After(delay):
		}

		ws, err := c.dial(c.ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("reconnect attempt failed")
			continue
		}
		if c.attach(ws) {
			c.rejoin()
		}
		return
	}

	c.mu.Lock()
	if !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	c.shouldReconnect = false
	notify := c.setState(StateGaveUp)
	c.mu.Unlock()
	notify()

	log.Error().Int("attempts", c.config.MaxReconnectAttempts).Msg("giving up on match gateway")
}

// rejoin restores room memberships after a reconnect. Each join reply is the
// authoritative state and is published to match-state subscribers.
func (c *Client) rejoin() {
	c.mu.Lock()
	reqs := make([]room.JoinRequest, 0, len(c.joined))
	for _, req := range c.joined {
		reqs = append(reqs, req)
	}
	c.mu.Unlock()

	for _, req := range reqs {
		f, err := c.Request(c.ctx, gateway.MsgJoinMatch, req)
		if err != nil {
			log.Warn().Err(err).Str("match_id", req.MatchID).Msg("failed to rejoin match")
			if errors.Is(err, matcherr.ErrNotFound) {
				c.mu.Lock()
				delete(c.joined, req.MatchID)
				c.mu.Unlock()
			}
			continue
		}
		c.mu.Lock()
		c.publishLocked(f)
		c.mu.Unlock()
	}
}

// Attempts is the number of the reconnect attempt in progress, 0 while connected.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Backoff is the delay before reconnect attempt n (1-based).
func Backoff(config Config, attempt int) time.Duration {
	delay := float64(config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= config.BackoffFactor
		if delay >= float64(config.MaxBackoff) {
			return config.MaxBackoff
		}
	}
	return time.Duration(delay)
}
